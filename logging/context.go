package logging

import "context"

type debugKey struct{}

// EnableDebugMode returns a context under which the C* debug methods log regardless of the
// logger's level. tag names why debugging was enabled and is attached to those entries.
func EnableDebugMode(ctx context.Context, tag string) context.Context {
	if tag == "" {
		tag = "debug"
	}
	return context.WithValue(ctx, debugKey{}, tag)
}

// IsDebugMode reports whether ctx came from EnableDebugMode.
func IsDebugMode(ctx context.Context) bool {
	return DebugTag(ctx) != ""
}

// DebugTag returns the tag ctx was enabled with, or "".
func DebugTag(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	tag, _ := ctx.Value(debugKey{}).(string)
	return tag
}
