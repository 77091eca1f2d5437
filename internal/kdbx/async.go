package kdbx

import (
	"context"

	"github.com/dmitrijs2005/gokdbx/internal/credentials"
)

// LoadResult is delivered by LoadAsync.
type LoadResult struct {
	DB  *Database
	Err error
}

// LoadAsync runs Load on its own goroutine, for callers that must not block
// on the KDF. The channel receives exactly one result and is then closed.
// Cancelling ctx does not interrupt a load in progress.
func LoadAsync(ctx context.Context, data []byte, creds *credentials.Credentials, opts Options) <-chan LoadResult {
	ch := make(chan LoadResult, 1)
	go func() {
		defer close(ch)
		db, err := Load(ctx, data, creds, opts)
		ch <- LoadResult{DB: db, Err: err}
	}()
	return ch
}

// SaveResult is delivered by SaveAsync.
type SaveResult struct {
	Data []byte
	Err  error
}

// SaveAsync runs Save on its own goroutine. The database must not be used
// until the result arrives.
func (db *Database) SaveAsync(ctx context.Context) <-chan SaveResult {
	ch := make(chan SaveResult, 1)
	go func() {
		defer close(ch)
		data, err := db.Save(ctx)
		ch <- SaveResult{Data: data, Err: err}
	}()
	return ch
}
