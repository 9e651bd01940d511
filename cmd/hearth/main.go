// Command hearth runs the family sync engine.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/phrazzld/hearth/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "hearth:", err)
		os.Exit(1)
	}
}
