package cache

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/redis/go-redis/v9"
)

// Kind tells whether a cache failure happened while obtaining a connection
// or while running the command itself.
type Kind int

const (
	KindConnection Kind = iota + 1
	KindOperation
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindOperation:
		return "operation"
	default:
		return "unknown"
	}
}

// Error is returned by every RedisCache method that fails
type Error struct {
	Kind Kind
	Op   string
	Key  string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("cache %s %s (%s): %v", e.Op, e.Key, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsConnection reports whether err is a cache connection failure
func IsConnection(err error) bool {
	var cerr *Error
	return errors.As(err, &cerr) && cerr.Kind == KindConnection
}

// IsOperation reports whether err is a failed cache command
func IsOperation(err error) bool {
	var cerr *Error
	return errors.As(err, &cerr) && cerr.Kind == KindOperation
}

func wrap(op, key string, err error) error {
	return &Error{Kind: classify(err), Op: op, Key: key, Err: err}
}

// classify treats pool exhaustion, a closed client, dial failures and
// timeouts as connection problems; anything else came back from Redis.
func classify(err error) Kind {
	var netErr net.Error
	switch {
	case errors.Is(err, redis.ErrClosed),
		errors.Is(err, redis.ErrPoolTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr):
		return KindConnection
	default:
		return KindOperation
	}
}
