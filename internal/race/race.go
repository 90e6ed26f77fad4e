// Package race resolves a lookup against several sources at once and keeps
// the first one that actually finds something.
package race

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoHit is returned when every source finished with a miss
var ErrNoHit = errors.New("no source had a hit")

// FetchFunc looks a value up. ok=false with a nil error is a miss.
type FetchFunc[T any] func(ctx context.Context) (value T, ok bool, err error)

// Source is one named participant in a race
type Source[T any] struct {
	Name  string
	Fetch FetchFunc[T]
}

// Result carries the winning value and the name of the source that produced it
type Result[T any] struct {
	Value  T
	Source string
}

type outcome[T any] struct {
	source string
	value  T
	ok     bool
	err    error
}

// First runs every source concurrently and returns the first hit.
//
// A miss or an error from one source never ends the race while another
// source is still running. When no source hits, First returns ErrNoHit if
// all of them missed, or the joined source errors otherwise. The context
// handed to the sources is cancelled as soon as First returns, and results
// arriving after that are discarded.
func First[T any](ctx context.Context, sources ...Source[T]) (Result[T], error) {
	if len(sources) == 0 {
		return Result[T]{}, ErrNoHit
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// buffered so losers never block after we stop listening
	results := make(chan outcome[T], len(sources))
	for _, src := range sources {
		go func(src Source[T]) {
			o := outcome[T]{source: src.Name}
			defer func() {
				if r := recover(); r != nil {
					o.ok = false
					o.err = fmt.Errorf("source %s panicked: %v", src.Name, r)
				}
				results <- o
			}()
			o.value, o.ok, o.err = src.Fetch(ctx)
		}(src)
	}

	var errs []error
	for range sources {
		select {
		case o := <-results:
			if o.err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", o.source, o.err))
				continue
			}
			if o.ok {
				return Result[T]{Value: o.value, Source: o.source}, nil
			}
		case <-ctx.Done():
			return Result[T]{}, ctx.Err()
		}
	}

	if len(errs) > 0 {
		return Result[T]{}, errors.Join(errs...)
	}
	return Result[T]{}, ErrNoHit
}
