package signal

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a signal id is not in the store.
var ErrNotFound = errors.New("signal not found")

// Store holds the current signal list. Implementations return copies and are
// safe for concurrent use.
type Store interface {
	List(ctx context.Context) ([]Signal, error)
	Get(ctx context.Context, id string) (Signal, bool, error)
	MarkRead(ctx context.Context, id string) error
	SetStatus(ctx context.Context, id string, status Status, now time.Time) (Signal, error)
}
