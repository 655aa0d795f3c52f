package logging

import (
	"context"

	"go.viam.com/utils"
)

type debugKeyType struct{}

// EnableDebugMode returns a context under which CDebug calls log whatever the logger's level. Entries logged that
// way carry the key as their debug_key field, so one request can be traced through the output. An empty key is
// replaced by a random one.
func EnableDebugMode(ctx context.Context, key string) context.Context {
	if key == "" {
		key = utils.RandomAlphaString(6)
	}
	return context.WithValue(ctx, debugKeyType{}, key)
}

// DebugKey returns the key ctx was put in debug mode with, or "".
func DebugKey(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	key, _ := ctx.Value(debugKeyType{}).(string)
	return key
}

// IsDebugMode returns whether ctx is in debug mode.
func IsDebugMode(ctx context.Context) bool {
	return DebugKey(ctx) != ""
}
