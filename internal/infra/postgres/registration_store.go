package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/lib/pq"

	"github.com/openctemio/webhooks/internal/metrics"
	"github.com/openctemio/webhooks/pkg/domain/webhook"
)

const registrationColumns = `user_id, id, callback_uri, secret, description, filters,
	headers, properties, is_paused, version, created_at, updated_at`

// RegistrationStore is the PostgreSQL implementation of webhook.Store.
// Versions are integers incremented on every update.
type RegistrationStore struct {
	db *DB
}

// NewRegistrationStore creates a new RegistrationStore.
func NewRegistrationStore(db *DB) *RegistrationStore {
	return &RegistrationStore{db: db}
}

var _ webhook.Store = (*RegistrationStore)(nil)

func observe(op string, start time.Time) {
	metrics.StoreOperationDuration.WithLabelValues("postgres", op).Observe(time.Since(start).Seconds())
}

// Get retrieves one registration.
func (s *RegistrationStore) Get(ctx context.Context, userID, id string) (*webhook.Registration, error) {
	defer observe("get", time.Now())

	query := `SELECT ` + registrationColumns + `
		FROM webhook_registrations WHERE user_id = $1 AND id = $2`
	r, err := scanRegistration(s.db.QueryRowContext(ctx, query, userID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, webhook.ErrRegistrationNotFound
	}
	if err != nil {
		return nil, wrapError("get registration", err)
	}
	return r, nil
}

// GetAll retrieves every registration of the user, oldest first.
func (s *RegistrationStore) GetAll(ctx context.Context, userID string) ([]*webhook.Registration, error) {
	defer observe("get_all", time.Now())

	query := `SELECT ` + registrationColumns + `
		FROM webhook_registrations WHERE user_id = $1 ORDER BY created_at, id`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, wrapError("list registrations", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*webhook.Registration
	for rows.Next() {
		r, err := scanRegistration(rows)
		if err != nil {
			return nil, wrapError("scan registration", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("iterate registrations", err)
	}
	return out, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Insert creates a registration with version 1.
func (s *RegistrationStore) Insert(ctx context.Context, r *webhook.Registration) error {
	defer observe("insert", time.Now())
	return s.insert(ctx, s.db, r)
}

// InsertWithin serializes inserts per user on a transaction-scoped advisory
// lock, so the count it checks cannot change before the insert commits.
func (s *RegistrationStore) InsertWithin(ctx context.Context, r *webhook.Registration, maxPerUser int) error {
	if maxPerUser <= 0 {
		return s.Insert(ctx, r)
	}
	defer observe("insert", time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapError("begin insert", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, r.UserID()); err != nil {
		return wrapError("lock user registrations", err)
	}

	var (
		count  int
		exists bool
	)
	err = tx.QueryRowContext(ctx, `
		SELECT count(*), COALESCE(bool_or(id = $2), false)
		FROM webhook_registrations WHERE user_id = $1`, r.UserID(), r.ID()).Scan(&count, &exists)
	if err != nil {
		return wrapError("count registrations", err)
	}
	switch {
	case exists:
		return webhook.ErrRegistrationExists
	case count >= maxPerUser:
		return webhook.ErrRegistrationQuota
	}

	if err := s.insert(ctx, tx, r); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrapError("commit insert", err)
	}
	return nil
}

func (s *RegistrationStore) insert(ctx context.Context, db execer, r *webhook.Registration) error {
	headers, properties, err := encodeMaps(r)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO webhook_registrations (
			user_id, id, callback_uri, secret, description, filters,
			headers, properties, is_paused, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10, $11)
	`
	_, err = db.ExecContext(ctx, query,
		r.UserID(),
		r.ID(),
		r.CallbackURI(),
		r.Secret(),
		r.Description(),
		pq.Array(r.Filters()),
		headers,
		properties,
		r.IsPaused(),
		r.CreatedAt(),
		r.UpdatedAt(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return webhook.ErrRegistrationExists
		}
		return wrapError("insert registration", err)
	}
	r.SetVersion("1")
	return nil
}

// Update replaces a registration when its stored version matches.
func (s *RegistrationStore) Update(ctx context.Context, r *webhook.Registration) error {
	defer observe("update", time.Now())

	version, err := strconv.ParseInt(r.Version(), 10, 64)
	if err != nil {
		// A token this store never issued cannot match.
		if _, getErr := s.Get(ctx, r.UserID(), r.ID()); getErr != nil {
			return getErr
		}
		return webhook.ErrVersionMismatch
	}

	headers, properties, err := encodeMaps(r)
	if err != nil {
		return err
	}

	r.Touch()
	query := `
		UPDATE webhook_registrations SET
			callback_uri = $3, secret = $4, description = $5, filters = $6,
			headers = $7, properties = $8, is_paused = $9,
			version = version + 1, updated_at = $10
		WHERE user_id = $1 AND id = $2 AND version = $11
		RETURNING version
	`
	var next int64
	err = s.db.QueryRowContext(ctx, query,
		r.UserID(),
		r.ID(),
		r.CallbackURI(),
		r.Secret(),
		r.Description(),
		pq.Array(r.Filters()),
		headers,
		properties,
		r.IsPaused(),
		r.UpdatedAt(),
		version,
	).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		exists, existsErr := s.exists(ctx, r.UserID(), r.ID())
		if existsErr != nil {
			return existsErr
		}
		if !exists {
			return webhook.ErrRegistrationNotFound
		}
		return webhook.ErrVersionMismatch
	}
	if err != nil {
		return wrapError("update registration", err)
	}

	r.SetVersion(strconv.FormatInt(next, 10))
	return nil
}

func (s *RegistrationStore) exists(ctx context.Context, userID, id string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM webhook_registrations WHERE user_id = $1 AND id = $2)`,
		userID, id,
	).Scan(&exists)
	if err != nil {
		return false, wrapError("check registration", err)
	}
	return exists, nil
}

// Delete removes one registration.
func (s *RegistrationStore) Delete(ctx context.Context, userID, id string) error {
	defer observe("delete", time.Now())

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM webhook_registrations WHERE user_id = $1 AND id = $2`, userID, id)
	if err != nil {
		return wrapError("delete registration", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return wrapError("delete registration", err)
	}
	if n == 0 {
		return webhook.ErrRegistrationNotFound
	}
	return nil
}

// DeleteAll removes every registration of the user.
func (s *RegistrationStore) DeleteAll(ctx context.Context, userID string) error {
	defer observe("delete_all", time.Now())

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM webhook_registrations WHERE user_id = $1`, userID); err != nil {
		return wrapError("delete registrations", err)
	}
	return nil
}

// ListUsers pages through distinct user IDs in ascending order.
func (s *RegistrationStore) ListUsers(ctx context.Context, cursor string, limit int) ([]string, string, error) {
	defer observe("list_users", time.Now())

	query := `SELECT DISTINCT user_id FROM webhook_registrations WHERE user_id > $1 ORDER BY user_id`
	args := []any{cursor}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit+1)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", wrapError("list users", err)
	}
	defer func() { _ = rows.Close() }()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, "", wrapError("scan user", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, "", wrapError("iterate users", err)
	}

	if limit > 0 && len(users) > limit {
		users = users[:limit]
		return users, users[limit-1], nil
	}
	return users, "", nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRegistration(row scanner) (*webhook.Registration, error) {
	var (
		p          webhook.RegistrationParams
		filters    pq.StringArray
		headers    []byte
		properties []byte
		version    int64
		createdAt  time.Time
		updatedAt  time.Time
	)
	if err := row.Scan(
		&p.UserID,
		&p.ID,
		&p.CallbackURI,
		&p.Secret,
		&p.Description,
		&filters,
		&headers,
		&properties,
		&p.IsPaused,
		&version,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if p.Headers, err = unmarshalJSONB[string](headers); err != nil {
		return nil, fmt.Errorf("decode headers: %w", err)
	}
	if p.Properties, err = unmarshalJSONB[any](properties); err != nil {
		return nil, fmt.Errorf("decode properties: %w", err)
	}
	p.Filters = filters
	p.Version = strconv.FormatInt(version, 10)
	return webhook.Reconstruct(p, createdAt, updatedAt), nil
}

func encodeMaps(r *webhook.Registration) ([]byte, []byte, error) {
	headers, err := jsonb(r.Headers())
	if err != nil {
		return nil, nil, fmt.Errorf("encode headers: %w", err)
	}
	properties, err := jsonb(r.Properties())
	if err != nil {
		return nil, nil, fmt.Errorf("encode properties: %w", err)
	}
	return headers, properties, nil
}
