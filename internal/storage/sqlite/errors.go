package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/steveyegge/mpsync/internal/storage"
)

// Sentinel errors re-exported so callers can match without importing storage.
var (
	ErrClosed      = storage.ErrClosed
	ErrUnknownKind = storage.ErrUnknownKind
)

// wrapDBError wraps a database error with operation context.
// sql.ErrNoRows is never wrapped; callers treat it as "absent".
func wrapDBError(op string, err error) error {
	if err == nil || errors.Is(err, sql.ErrNoRows) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

// wrapDBErrorf wraps a database error with formatted operation context.
func wrapDBErrorf(err error, format string, args ...interface{}) error {
	return wrapDBError(fmt.Sprintf(format, args...), err)
}
