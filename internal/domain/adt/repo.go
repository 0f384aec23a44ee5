package adt

import "context"

// Repository stores ADT records between batches.
type Repository interface {
	Source
	Import(ctx context.Context, ds *Dataset) (int, error)
}
