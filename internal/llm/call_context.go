package llm

import "context"

type callIDContextKey struct{}

// ContextWithCallID annotates ctx with the originating tool call's ID, so a
// tool like spawn_agent can bubble sub-agent events back correlated to the
// call that started it.
func ContextWithCallID(ctx context.Context, callID string) context.Context {
	return context.WithValue(ctx, callIDContextKey{}, callID)
}

// CallIDFromContext returns the tool call ID set by ContextWithCallID, or ""
// if none was set.
func CallIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(callIDContextKey{}).(string)
	return id
}
