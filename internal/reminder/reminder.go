// Package reminder holds the Reminder record and the store contract shared
// by the extractor pipeline, the sweeper and the bot commands.
package reminder

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrStorageUnavailable wraps any failure to reach the persistence medium.
	ErrStorageUnavailable = errors.New("reminder storage unavailable")
	// ErrNotFound is reported when a reminder does not exist or belongs to
	// another owner. The two cases are deliberately indistinguishable.
	ErrNotFound = errors.New("reminder not found")
)

// Reminder is a pending reminder. Records are never updated in place.
type Reminder struct {
	ID        int64
	OwnerID   int64
	Text      string
	DueAt     time.Time
	CreatedAt time.Time
}

// Due reports whether r should be delivered at now (inclusive).
func (r Reminder) Due(now time.Time) bool { return !r.DueAt.After(now) }

// Store persists reminders. Every mutating call is committed before it
// returns and each call is atomic with respect to the others.
type Store interface {
	Insert(ctx context.Context, ownerID int64, text string, dueAt, createdAt time.Time) (int64, error)
	// ListByOwner returns ownerID's reminders ordered by ascending due time.
	ListByOwner(ctx context.Context, ownerID int64) ([]Reminder, error)
	// DeleteForOwner reports whether a reminder with id existed and belonged
	// to ownerID. Nothing is mutated when it returns false.
	DeleteForOwner(ctx context.Context, id, ownerID int64) (bool, error)
	// SelectDue returns every reminder with DueAt <= asOf without deleting it.
	SelectDue(ctx context.Context, asOf time.Time) ([]Reminder, error)
	// DeleteByID removes id. Deleting a missing id is a no-op.
	DeleteByID(ctx context.Context, id int64) error
	Ping(ctx context.Context) error
	Close() error
}

// Unavailable wraps err as ErrStorageUnavailable. Context errors are kept
// as-is so callers can tell cancellation apart from an outage.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &opError{op: op, err: err}
}

type opError struct {
	op  string
	err error
}

func (e *opError) Error() string { return "reminder store " + e.op + ": " + e.err.Error() }

func (e *opError) Unwrap() []error { return []error{ErrStorageUnavailable, e.err} }
