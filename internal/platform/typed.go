package platform

import (
	"context"

	"github.com/aretw0/docsync/pkg/typed"
)

// OpenTyped opens the named collection and wraps it with entity type T.
func OpenTyped[T any](ctx context.Context, e *Engine, name string) (*typed.Collection[T], error) {
	c, err := e.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return typed.New[T](c), nil
}
