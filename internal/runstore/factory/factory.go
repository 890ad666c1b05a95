// Package factory selects a runstore.Store implementation from a DSN
// string, grounded on internal/store/factory/factory.go's prefix-dispatch
// pattern.
package factory

import (
	"errors"
	"strings"

	pg "github.com/loykin/cid/internal/runstore/postgres"
	sq "github.com/loykin/cid/internal/runstore/sqlite"

	"github.com/loykin/cid/internal/runstore"
)

// NewFromDSN selects a backend based on dsn's scheme:
//   - "postgres://" or "postgresql://" -> pgx-backed store
//   - "sqlite://<path>" or a bare filesystem path -> modernc.org/sqlite store
func NewFromDSN(dsn string) (runstore.Store, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	if ld == "" {
		return nil, errors.New("empty run store DSN")
	}
	if strings.HasPrefix(ld, "postgres://") || strings.HasPrefix(ld, "postgresql://") {
		return pg.New(d)
	}
	if strings.HasPrefix(ld, "sqlite://") {
		return sq.New(strings.TrimPrefix(d, "sqlite://"))
	}
	return sq.New(d)
}
