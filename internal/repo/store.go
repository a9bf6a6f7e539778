package repo

import "context"

// Statement is a parameterised SQL statement. Kind labels it for logs and fakes.
type Statement struct {
	Kind string
	Text string
	Args []any
}

// Row is one result row with columns in select-list order.
type Row []any

// Store executes read-only statements against the metrics database.
type Store interface {
	Execute(ctx context.Context, stmt Statement) ([]Row, error)
}

// StoreFunc adapts a function to the Store interface.
type StoreFunc func(ctx context.Context, stmt Statement) ([]Row, error)

// Execute calls f.
func (f StoreFunc) Execute(ctx context.Context, stmt Statement) ([]Row, error) {
	return f(ctx, stmt)
}
