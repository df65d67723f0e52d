// Package store implements the RecordStore: an indexed, in-process
// container of session records supporting the mutating operations and read
// queries the session engine needs. Two backends satisfy Store — a SQL
// backend (modernc.org/sqlite, in-memory) and a hand-rolled map-backed
// backend — and both must enforce the same invariants.
package store

import (
	"context"
	"errors"

	"github.com/snarg/pi/internal/model"
)

// ErrDuplicateKey is returned by Insert when phone already exists. The
// engine always checks Get first, so reaching this is a programming error.
var ErrDuplicateKey = errors.New("store: duplicate phone key")

// Store is the RecordStore contract. All operations are total and
// synchronous; none may block on anything but the backend itself.
type Store interface {
	// Insert adds a new record with date_created = last_active = now and
	// cooldown/tasked unset. Returns ErrDuplicateKey if phone already exists.
	Insert(ctx context.Context, now int64, phone, ipAddr, region, guid, desc string) error

	// Get returns the record for phone, or nil if absent.
	Get(ctx context.Context, phone string) (*model.Record, error)

	// Touch sets last_active = now on an existing record. No-op if absent.
	Touch(ctx context.Context, now int64, phone string) error

	// DeleteIfNotInCooldown deletes phone's record unless it is in cooldown.
	// Returns the number of rows removed (0 or 1).
	DeleteIfNotInCooldown(ctx context.Context, phone string) (int, error)

	// DeleteExpired removes records where cooldown_expiry is unset and
	// last_active + activeTime <= now. Returns the count removed.
	DeleteExpired(ctx context.Context, now, activeTime int64) (int, error)

	// DeleteFinishedCooldown removes records where cooldown_expiry <= now.
	// Returns the count removed.
	DeleteFinishedCooldown(ctx context.Context, now int64) (int, error)

	// SelectEligible returns eligible records (I3), ordered by date_created
	// descending, ties broken by phone ascending.
	SelectEligible(ctx context.Context, now, activeTime int64) ([]*model.Record, error)

	// MarkTasked sets tasked_time := now for each named phone. Unknown
	// phones are silently skipped.
	MarkTasked(ctx context.Context, now int64, phones []string) error

	// SendAllTaskedToCooldown sets cooldown_expiry := now + cooldownTime for
	// every record with tasked_time set. Idempotent within the same second.
	SendAllTaskedToCooldown(ctx context.Context, now, cooldownTime int64) error

	// ReleaseRecentFromCooldown clears cooldown_expiry on records where it is
	// set and last_active + activeTime > now.
	ReleaseRecentFromCooldown(ctx context.Context, now, activeTime int64) error

	// Size returns the current record count (used for metrics/health only).
	Size(ctx context.Context) (int, error)

	// Close releases any backend resources (connections, handles).
	Close() error
}
