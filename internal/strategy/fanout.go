package strategy

import "context"

type legResult[T any] struct {
	val T
	err error
}

// inPair runs fa and fb concurrently and waits for both to settle. Every
// cross-venue operation pair in a cycle goes through here, so concurrency
// stays bounded to a single fan-out of two.
func inPair[T any](ctx context.Context, fa, fb func(context.Context) (T, error)) (legResult[T], legResult[T]) {
	ca := make(chan legResult[T], 1)
	cb := make(chan legResult[T], 1)
	go func() {
		val, err := fa(ctx)
		ca <- legResult[T]{val: val, err: err}
	}()
	go func() {
		val, err := fb(ctx)
		cb <- legResult[T]{val: val, err: err}
	}()
	return <-ca, <-cb
}
