package policy

import "context"

// Caller is the identity a request runs as. The zero value is the
// anonymous caller.
type Caller struct {
	Subject string
	Role    string
}

func (c Caller) Anonymous() bool {
	return c.Subject == ""
}

type callerKey struct{}

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

func CallerFrom(ctx context.Context) Caller {
	c, _ := ctx.Value(callerKey{}).(Caller)
	return c
}
