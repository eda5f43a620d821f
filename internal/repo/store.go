// Package repo implements the persistence layer for payment records.
//
// Every backend satisfies Store, so the persistence strategy (whole-file JSON
// rewrite, embedded SQL, embedded KV, or Redis) can be swapped without
// touching services or handlers. The store is append-only: records are never
// deleted or reordered, and the only mutation after creation is the one-way
// firstVisit flip performed by MarkVisited.
//
// Concurrency: each backend serializes its operations with a mutex, so two
// mutations never interleave within one process.
//
// Error semantics:
//   - A missing record yields ErrNotFound.
//   - Backend failures (I/O, driver, network) are wrapped and propagated.
package repo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tbourn/go-paywall-counter/internal/config"
	"github.com/tbourn/go-paywall-counter/internal/domain"
)

// ErrNotFound is returned when no record carries the requested id.
var ErrNotFound = errors.New("payment record not found")

// Store owns the ordered sequence of payment records.
type Store interface {
	// Append adds rec at the end of the sequence and persists it before returning.
	Append(ctx context.Context, rec domain.PaymentRecord) error
	// Find returns the record with the given id or ErrNotFound.
	Find(ctx context.Context, id string) (domain.PaymentRecord, error)
	// MarkVisited clears firstVisit and persists the change. It reports true
	// only for the call that performed the flip.
	MarkVisited(ctx context.Context, id string) (bool, error)
	// Count returns the number of records.
	Count(ctx context.Context) (int, error)
	// All returns a snapshot of every record in insertion order (never nil).
	All(ctx context.Context) ([]domain.PaymentRecord, error)
	// Close releases the underlying resources.
	Close() error
}

// Open builds the Store selected by cfg.Driver, creating the parent directory
// of file-backed stores when needed.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case config.StoreJSON, "":
		return OpenJSONFile(cfg.DataPath)
	case config.StoreSQLite:
		if err := ensureDir(cfg.DBPath); err != nil {
			return nil, err
		}
		db, err := OpenSQLite(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.DBPath, err)
		}
		return NewSQLiteStore(db)
	case config.StoreBolt:
		if err := ensureDir(cfg.BoltPath); err != nil {
			return nil, err
		}
		return OpenBolt(cfg.BoltPath)
	case config.StoreRedis:
		return OpenRedis(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// ensureDir creates the parent directory of path if it does not exist.
func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir %s: %w", dir, err)
	}
	return nil
}
