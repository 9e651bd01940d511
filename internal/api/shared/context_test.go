package shared

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestSetAndGetTraceID(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetTraceID(ctx))

	ctxWithTrace := SetTraceID(ctx, "")
	traceID := GetTraceID(ctxWithTrace)
	_, err := uuid.Parse(traceID)
	assert.NoError(t, err, "generated trace IDs are UUIDs")

	assert.Empty(t, GetTraceID(ctx), "original context is unchanged")
}

func TestSetTraceIDReusesCallerID(t *testing.T) {
	tests := []struct {
		name      string
		candidate string
		reused    bool
	}{
		{name: "plain id", candidate: "req-42_abc", reused: true},
		{name: "empty", candidate: "", reused: false},
		{name: "too long", candidate: strings.Repeat("a", maxTraceIDLength+1), reused: false},
		{name: "header injection", candidate: "abc\r\nX-Evil: 1", reused: false},
		{name: "spaces", candidate: "a b", reused: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := GetTraceID(SetTraceID(context.Background(), tc.candidate))
			if tc.reused {
				assert.Equal(t, tc.candidate, got)
			} else {
				assert.NotEqual(t, tc.candidate, got)
				assert.NotEmpty(t, got)
			}
		})
	}
}

func TestGetTraceIDWithInvalidContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), TraceIDKey, 123)
	assert.Empty(t, GetTraceID(ctx))
}
