package redis

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openctemio/webhooks/internal/metrics"
	"github.com/openctemio/webhooks/pkg/domain/shared"
	"github.com/openctemio/webhooks/pkg/domain/webhook"
)

// Scripts keep the record hash, the version hash and the users index in step.
var (
	// insertScript returns 0 when the id is taken and -1 when the user
	// already holds ARGV[4] registrations. A limit of 0 disables the check.
	insertScript = redis.NewScript(`
		if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 1 then
			return 0
		end
		local limit = tonumber(ARGV[4])
		if limit > 0 and redis.call('HLEN', KEYS[1]) >= limit then
			return -1
		end
		redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
		redis.call('HSET', KEYS[2], ARGV[1], '1')
		redis.call('ZADD', KEYS[3], '0', ARGV[3])
		return 1
	`)

	// updateScript returns the new version, -1 when missing, -2 on a stale version.
	updateScript = redis.NewScript(`
		local current = redis.call('HGET', KEYS[2], ARGV[1])
		if not current then
			return -1
		end
		if current ~= ARGV[2] then
			return -2
		end
		redis.call('HSET', KEYS[1], ARGV[1], ARGV[3])
		return redis.call('HINCRBY', KEYS[2], ARGV[1], 1)
	`)

	// deleteScript drops the user from the index with their last registration.
	deleteScript = redis.NewScript(`
		local removed = redis.call('HDEL', KEYS[1], ARGV[1])
		redis.call('HDEL', KEYS[2], ARGV[1])
		if redis.call('HLEN', KEYS[1]) == 0 then
			redis.call('ZREM', KEYS[3], ARGV[2])
		end
		return removed
	`)
)

const (
	insertTaken = 0
	insertQuota = -1

	updateMissing = -1
	updateStale   = -2
)

// RegistrationStore is the Redis implementation of webhook.Store.
type RegistrationStore struct {
	client *Client
}

// NewRegistrationStore creates a new RegistrationStore.
func NewRegistrationStore(client *Client) *RegistrationStore {
	return &RegistrationStore{client: client}
}

var _ webhook.Store = (*RegistrationStore)(nil)

func (s *RegistrationStore) registrationsKey(userID string) string {
	return s.client.Key("registrations", userID)
}

func (s *RegistrationStore) versionsKey(userID string) string {
	return s.client.Key("versions", userID)
}

func (s *RegistrationStore) usersKey() string {
	return s.client.Key("users")
}

func (s *RegistrationStore) keys(userID string) []string {
	return []string{s.registrationsKey(userID), s.versionsKey(userID), s.usersKey()}
}

func observe(op string, start time.Time) {
	metrics.StoreOperationDuration.WithLabelValues("redis", op).Observe(time.Since(start).Seconds())
}

// Get retrieves one registration.
func (s *RegistrationStore) Get(ctx context.Context, userID, id string) (*webhook.Registration, error) {
	defer observe("get", time.Now())

	var recCmd, verCmd *redis.StringCmd
	_, err := s.client.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		recCmd = p.HGet(ctx, s.registrationsKey(userID), id)
		verCmd = p.HGet(ctx, s.versionsKey(userID), id)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, wrapError("get registration", err)
	}

	raw, err := recCmd.Result()
	if errors.Is(err, redis.Nil) {
		return nil, webhook.ErrRegistrationNotFound
	}
	if err != nil {
		return nil, wrapError("get registration", err)
	}
	version, err := verCmd.Result()
	if err != nil {
		return nil, fmt.Errorf("%w: registration %s/%s has no version", shared.ErrStorage, userID, id)
	}
	return decodeRegistration(raw, version)
}

// GetAll retrieves every registration of the user, oldest first.
func (s *RegistrationStore) GetAll(ctx context.Context, userID string) ([]*webhook.Registration, error) {
	defer observe("get_all", time.Now())

	var recCmd, verCmd *redis.MapStringStringCmd
	_, err := s.client.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		recCmd = p.HGetAll(ctx, s.registrationsKey(userID))
		verCmd = p.HGetAll(ctx, s.versionsKey(userID))
		return nil
	})
	if err != nil {
		return nil, wrapError("list registrations", err)
	}

	records := recCmd.Val()
	versions := verCmd.Val()
	out := make([]*webhook.Registration, 0, len(records))
	for id, raw := range records {
		r, err := decodeRegistration(raw, versions[id])
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b *webhook.Registration) int {
		if c := a.CreatedAt().Compare(b.CreatedAt()); c != 0 {
			return c
		}
		return cmp.Compare(a.ID(), b.ID())
	})
	return out, nil
}

// Insert creates a registration with version 1.
func (s *RegistrationStore) Insert(ctx context.Context, r *webhook.Registration) error {
	return s.InsertWithin(ctx, r, 0)
}

// InsertWithin counts the user's hash inside the insert script.
func (s *RegistrationStore) InsertWithin(ctx context.Context, r *webhook.Registration, maxPerUser int) error {
	defer observe("insert", time.Now())

	data, err := encodeRegistration(r)
	if err != nil {
		return err
	}
	res, err := insertScript.Run(ctx, s.client.client, s.keys(r.UserID()),
		r.ID(), data, r.UserID(), max(maxPerUser, 0)).Int64()
	if err != nil {
		return wrapError("insert registration", err)
	}
	switch res {
	case insertTaken:
		return webhook.ErrRegistrationExists
	case insertQuota:
		return webhook.ErrRegistrationQuota
	}
	r.SetVersion("1")
	return nil
}

// Update replaces a registration when its stored version matches.
func (s *RegistrationStore) Update(ctx context.Context, r *webhook.Registration) error {
	defer observe("update", time.Now())

	r.Touch()
	data, err := encodeRegistration(r)
	if err != nil {
		return err
	}
	next, err := updateScript.Run(ctx, s.client.client, s.keys(r.UserID()), r.ID(), r.Version(), data).Int64()
	if err != nil {
		return wrapError("update registration", err)
	}
	switch next {
	case updateMissing:
		return webhook.ErrRegistrationNotFound
	case updateStale:
		return webhook.ErrVersionMismatch
	}
	r.SetVersion(strconv.FormatInt(next, 10))
	return nil
}

// Delete removes one registration.
func (s *RegistrationStore) Delete(ctx context.Context, userID, id string) error {
	defer observe("delete", time.Now())

	removed, err := deleteScript.Run(ctx, s.client.client, s.keys(userID), id, userID).Int64()
	if err != nil {
		return wrapError("delete registration", err)
	}
	if removed == 0 {
		return webhook.ErrRegistrationNotFound
	}
	return nil
}

// DeleteAll removes every registration of the user.
func (s *RegistrationStore) DeleteAll(ctx context.Context, userID string) error {
	defer observe("delete_all", time.Now())

	_, err := s.client.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.registrationsKey(userID), s.versionsKey(userID))
		p.ZRem(ctx, s.usersKey(), userID)
		return nil
	})
	if err != nil {
		return wrapError("delete registrations", err)
	}
	return nil
}

// ListUsers pages through the users index in lexical order.
func (s *RegistrationStore) ListUsers(ctx context.Context, cursor string, limit int) ([]string, string, error) {
	defer observe("list_users", time.Now())

	by := &redis.ZRangeBy{Min: "-", Max: "+"}
	if cursor != "" {
		by.Min = "(" + cursor
	}
	if limit > 0 {
		by.Count = int64(limit) + 1
	}
	users, err := s.client.client.ZRangeByLex(ctx, s.usersKey(), by).Result()
	if err != nil {
		return nil, "", wrapError("list users", err)
	}

	if limit > 0 && len(users) > limit {
		users = users[:limit]
		return users, users[limit-1], nil
	}
	return users, "", nil
}

func encodeRegistration(r *webhook.Registration) (string, error) {
	rec := r.ToRecord()
	rec.Version = ""
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode registration: %w", err)
	}
	return string(data), nil
}

func decodeRegistration(raw, version string) (*webhook.Registration, error) {
	var rec webhook.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("%w: decode registration: %w", shared.ErrStorage, err)
	}
	rec.Version = version
	return webhook.FromRecord(rec), nil
}

// wrapError classifies a Redis error for the store contract.
func wrapError(op string, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, redis.ErrClosed), errors.As(err, &netErr):
		return fmt.Errorf("%w: %s: %w", shared.ErrStoreUnavailable, op, err)
	default:
		return fmt.Errorf("%w: %s: %w", shared.ErrStorage, op, err)
	}
}
