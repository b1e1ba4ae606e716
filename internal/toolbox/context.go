package toolbox

import "context"

type turnIDKey struct{}

// WithTurnID attaches the current turn's id to ctx so tools that complete
// asynchronously (shell, remote_exec) can patch the right journal entry.
func WithTurnID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, turnIDKey{}, id)
}

// TurnIDFromContext returns the turn id set by WithTurnID, if any.
func TurnIDFromContext(ctx context.Context) (string, bool) {
	v, _ := ctx.Value(turnIDKey{}).(string)
	return v, v != ""
}
