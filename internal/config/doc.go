// Package config handles configuration loading, parsing, and validation
// from defaults, an optional hearth.yaml file and HEARTH_ environment
// variables. It provides typed settings to the engine and the CLI while
// keeping configuration details out of the sync and domain packages.
package config
