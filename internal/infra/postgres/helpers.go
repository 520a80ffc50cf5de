package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"

	"github.com/openctemio/webhooks/pkg/domain/shared"
)

// isUniqueViolation checks if the error is a unique constraint violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// isUnavailable reports errors that mean the database could not be reached,
// as opposed to a failed statement.
func isUnavailable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "53", "57":
			// connection exception, insufficient resources, operator intervention
			return true
		}
	}
	return false
}

// wrapError classifies a database error for the store contract.
func wrapError(op string, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case isUnavailable(err):
		return fmt.Errorf("%w: %s: %w", shared.ErrStoreUnavailable, op, err)
	default:
		return fmt.Errorf("%w: %s: %w", shared.ErrStorage, op, err)
	}
}

// jsonb marshals v for a JSONB column, storing an empty object for nil maps.
func jsonb[T any](v map[string]T) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v)
}

func unmarshalJSONB[T any](data []byte) (map[string]T, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var out map[string]T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}
