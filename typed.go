package docsync

import (
	"context"

	"github.com/aretw0/docsync/internal/platform"
	"github.com/aretw0/docsync/pkg/core"
	"github.com/aretw0/docsync/pkg/typed"
)

// Document is a typed view of a record.
type Document[T any] = typed.Document[T]

// TypedCollection wraps a Collection with entity type T.
type TypedCollection[T any] = typed.Collection[T]

// NewTyped wraps an existing collection.
func NewTyped[T any](c *core.Collection) *TypedCollection[T] {
	return typed.New[T](c)
}

// OpenTyped opens the named collection on eng with entity type T.
func OpenTyped[T any](ctx context.Context, eng *Engine, name string) (*TypedCollection[T], error) {
	return platform.OpenTyped[T](ctx, eng, name)
}
