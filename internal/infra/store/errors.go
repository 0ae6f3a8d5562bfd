package store

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ascend-academy/ascend/internal/domain"
)

// errDuplicateKey marks a unique-constraint violation. Callers performing
// insert-if-absent treat it as "already applied".
var errDuplicateKey = errors.New("duplicate key")

// isDuplicateKey reports whether err is a unique-constraint violation.
func isDuplicateKey(err error) bool {
	return errors.Is(err, errDuplicateKey)
}

// mapError classifies driver errors into the engine's taxonomy:
// unique violations become errDuplicateKey, lock contention and lost
// connections become domain.ErrTransientStore. Anything else passes through.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		switch {
		case code == sqlite3.SQLITE_CONSTRAINT_UNIQUE, code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %w", errDuplicateKey, err)
		case code&0xff == sqlite3.SQLITE_BUSY, code&0xff == sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %w", domain.ErrTransientStore, err)
		}
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return fmt.Errorf("%w: %w", errDuplicateKey, err)
		case pgErr.Code == "40001", pgErr.Code == "40P01", strings.HasPrefix(pgErr.Code, "08"):
			// serialization failure, deadlock, connection exception
			return fmt.Errorf("%w: %w", domain.ErrTransientStore, err)
		}
		return err
	}

	if errors.Is(err, driver.ErrBadConn) || pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %w", domain.ErrTransientStore, err)
	}
	return err
}
