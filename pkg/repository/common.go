package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-pkgz/repeater/v2"

	"github.com/umputun/shortcast/pkg/domain"
)

// errCritical is the repeater termination marker matched by criticalError
var errCritical = errors.New("critical store error")

// criticalError wraps an error to signal repeater to stop retrying
type criticalError struct {
	err error
}

func (e *criticalError) Error() string {
	return e.err.Error()
}

func (e *criticalError) Unwrap() error { return e.err }

// Is makes criticalError match errCritical for repeater termination
func (e *criticalError) Is(target error) bool { return target == errCritical }

// isLockError checks if an error is a SQLite lock/busy error
func isLockError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "SQLITE_BUSY") ||
		strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "database table is locked")
}

// storeErr annotates backing failures with the store sentinels, other errors are wrapped as-is
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "malformed"), strings.Contains(errStr, "SQLITE_CORRUPT"),
		strings.Contains(errStr, "file is not a database"), strings.Contains(errStr, "SQLITE_NOTADB"):
		return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreCorrupt, err)
	case strings.Contains(errStr, "unable to open database"), strings.Contains(errStr, "SQLITE_CANTOPEN"),
		strings.Contains(errStr, "disk I/O error"), strings.Contains(errStr, "database is closed"),
		strings.Contains(errStr, "SQLITE_FULL"), isLockError(err):
		return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// retryWrite runs a mutating operation, retrying lock errors with backoff and stopping on anything else
func retryWrite(ctx context.Context, op string, fn func() error) error {
	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))
	err := retrier.Do(ctx, func() error {
		err := fn()
		if err == nil || isLockError(err) {
			return err // repeater will retry lock errors
		}
		return &criticalError{err: err}
	}, errCritical)
	if err == nil {
		return nil
	}
	var ce *criticalError
	if errors.As(err, &ce) {
		err = ce.err
	}
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInvalidTransition) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return storeErr(op, err)
}

// ts normalizes timestamps before binding, keeping stored values comparable as text
func ts(t time.Time) time.Time {
	return t.UTC()
}

// tsPtr normalizes an optional timestamp
func tsPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// stringsSQL is a JSON array of strings for SQL operations
type stringsSQL []string

// Value implements driver.Valuer for database storage
func (s stringsSQL) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for database retrieval
func (s *stringsSQL) Scan(value interface{}) error {
	*s = stringsSQL{}
	data, ok := scanBytes(value)
	if !ok || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, s)
}

// jsonSQL stores an arbitrary value as a JSON column, a nil pointer maps to NULL
type jsonSQL[T any] struct {
	V *T
}

// Value implements driver.Valuer for database storage
func (j jsonSQL[T]) Value() (driver.Value, error) {
	if j.V == nil {
		return nil, nil
	}
	b, err := json.Marshal(j.V)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for database retrieval
func (j *jsonSQL[T]) Scan(value interface{}) error {
	j.V = nil
	data, ok := scanBytes(value)
	if !ok || len(data) == 0 || string(data) == "null" {
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal json column: %w", err)
	}
	j.V = &v
	return nil
}

func scanBytes(value interface{}) ([]byte, bool) {
	switch v := value.(type) {
	case []byte:
		return v, true
	case string:
		return []byte(v), true
	}
	return nil, false
}

// rowsAffected returns affected rows of an exec result
func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
