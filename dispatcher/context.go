package dispatcher

import "context"

type threadIDKey struct{}

// CallerThreadID returns the remote caller's thread id carried by ctx.
// Members that take a context.Context as first parameter receive such a ctx.
func CallerThreadID(ctx context.Context) (int32, bool) {
	id, ok := ctx.Value(threadIDKey{}).(int32)
	return id, ok
}

func withThreadID(ctx context.Context, id int32) context.Context {
	return context.WithValue(ctx, threadIDKey{}, id)
}
