package s3

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/openctemio/webhooks/internal/metrics"
	"github.com/openctemio/webhooks/pkg/domain/shared"
	"github.com/openctemio/webhooks/pkg/domain/webhook"
)

// RegistrationStore is the S3 implementation of webhook.Store.
//
// Each registration is one object at <prefix>/registrations/<user>/<id>.json
// and its version is the object's ETag. Inserts and updates are conditional
// writes, so a lost race surfaces as ErrRegistrationExists or
// ErrVersionMismatch. Quota-limited inserts for one user are serialized by a
// leased lock object at <prefix>/locks/<user>.
type RegistrationStore struct {
	client *Client
	lock   *userLock
}

// NewRegistrationStore creates a store on client. lockTTL bounds how long a
// crashed inserter can block the user's next quota-limited insert.
func NewRegistrationStore(client *Client, lockTTL time.Duration) *RegistrationStore {
	return &RegistrationStore{
		client: client,
		lock:   &userLock{client: client, ttl: lockTTL, now: time.Now},
	}
}

var _ webhook.Store = (*RegistrationStore)(nil)

func observe(op string, start time.Time) {
	metrics.StoreOperationDuration.WithLabelValues("s3", op).Observe(time.Since(start).Seconds())
}

// User IDs come from token subjects and may contain '/', so path segments
// are escaped.
func (s *RegistrationStore) usersPrefix() string {
	return s.client.Key("registrations") + "/"
}

func (s *RegistrationStore) userPrefix(userID string) string {
	return s.usersPrefix() + url.PathEscape(userID) + "/"
}

func (s *RegistrationStore) objectKey(userID, id string) string {
	return s.userPrefix(userID) + url.PathEscape(id) + ".json"
}

func (s *RegistrationStore) lockKey(userID string) string {
	return s.client.Key("locks", url.PathEscape(userID))
}

// Get retrieves one registration.
func (s *RegistrationStore) Get(ctx context.Context, userID, id string) (*webhook.Registration, error) {
	defer observe("get", time.Now())
	return s.read(ctx, s.objectKey(userID, id))
}

func (s *RegistrationStore) read(ctx context.Context, key string) (*webhook.Registration, error) {
	out, err := s.client.api.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.client.bucket),
		Key:    aws.String(key),
	})
	if isNotFound(err) {
		return nil, webhook.ErrRegistrationNotFound
	}
	if err != nil {
		return nil, wrapError("get registration", err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, wrapError("read registration", err)
	}
	return decodeRegistration(data, unquote(out.ETag))
}

// GetAll retrieves every registration of the user, oldest first.
func (s *RegistrationStore) GetAll(ctx context.Context, userID string) ([]*webhook.Registration, error) {
	defer observe("get_all", time.Now())

	keys, err := s.listKeys(ctx, s.userPrefix(userID))
	if err != nil {
		return nil, err
	}
	out := make([]*webhook.Registration, 0, len(keys))
	for _, key := range keys {
		r, err := s.read(ctx, key)
		if errors.Is(err, webhook.ErrRegistrationNotFound) {
			continue // deleted after listing
		}
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

// Insert creates a registration; its version is the new object's ETag.
func (s *RegistrationStore) Insert(ctx context.Context, r *webhook.Registration) error {
	defer observe("insert", time.Now())
	return s.create(ctx, r)
}

// InsertWithin holds the user's lock across counting and writing.
func (s *RegistrationStore) InsertWithin(ctx context.Context, r *webhook.Registration, maxPerUser int) error {
	if maxPerUser <= 0 {
		return s.Insert(ctx, r)
	}
	defer observe("insert", time.Now())

	lockKey := s.lockKey(r.UserID())
	etag, err := s.lock.acquire(ctx, lockKey)
	if errors.Is(err, errLockHeld) {
		return fmt.Errorf("%w: %w", shared.ErrStoreUnavailable, err)
	}
	if err != nil {
		return err
	}
	defer func() {
		if err := s.lock.release(ctx, lockKey, etag); err != nil {
			s.client.logger.Warn("release s3 lock", "key", lockKey, "error", err)
		}
	}()

	keys, err := s.listKeys(ctx, s.userPrefix(r.UserID()))
	if err != nil {
		return err
	}
	if slices.Contains(keys, s.objectKey(r.UserID(), r.ID())) {
		return webhook.ErrRegistrationExists
	}
	if len(keys) >= maxPerUser {
		return webhook.ErrRegistrationQuota
	}
	return s.create(ctx, r)
}

func (s *RegistrationStore) create(ctx context.Context, r *webhook.Registration) error {
	data, err := encodeRegistration(r)
	if err != nil {
		return err
	}
	out, err := s.client.api.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:      aws.String(s.client.bucket),
		Key:         aws.String(s.objectKey(r.UserID(), r.ID())),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		IfNoneMatch: aws.String("*"),
	})
	if isConflict(err) {
		return webhook.ErrRegistrationExists
	}
	if err != nil {
		return wrapError("insert registration", err)
	}
	r.SetVersion(unquote(out.ETag))
	return nil
}

// Update overwrites the object when its ETag still equals r.Version().
func (s *RegistrationStore) Update(ctx context.Context, r *webhook.Registration) error {
	defer observe("update", time.Now())

	r.Touch()
	data, err := encodeRegistration(r)
	if err != nil {
		return err
	}
	out, err := s.client.api.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:      aws.String(s.client.bucket),
		Key:         aws.String(s.objectKey(r.UserID(), r.ID())),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		IfMatch:     aws.String(`"` + r.Version() + `"`),
	})
	switch {
	case isNotFound(err):
		return webhook.ErrRegistrationNotFound
	case isConflict(err):
		return webhook.ErrVersionMismatch
	case err != nil:
		return wrapError("update registration", err)
	}
	r.SetVersion(unquote(out.ETag))
	return nil
}

// Delete removes one registration.
func (s *RegistrationStore) Delete(ctx context.Context, userID, id string) error {
	defer observe("delete", time.Now())

	key := s.objectKey(userID, id)
	head, err := s.client.api.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(s.client.bucket),
		Key:    aws.String(key),
	})
	if isNotFound(err) {
		return webhook.ErrRegistrationNotFound
	}
	if err != nil {
		return wrapError("delete registration", err)
	}
	_, err = s.client.api.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket:  aws.String(s.client.bucket),
		Key:     aws.String(key),
		IfMatch: head.ETag,
	})
	// A concurrent delete or update between the two calls: the object is
	// either gone or newer, and both count as removed by someone else.
	if isNotFound(err) || isConflict(err) {
		return webhook.ErrRegistrationNotFound
	}
	if err != nil {
		return wrapError("delete registration", err)
	}
	return nil
}

// DeleteAll removes every registration of the user in batches.
func (s *RegistrationStore) DeleteAll(ctx context.Context, userID string) error {
	defer observe("delete_all", time.Now())

	keys, err := s.listKeys(ctx, s.userPrefix(userID))
	if err != nil {
		return err
	}
	for batch := range slices.Chunk(keys, 1000) {
		objects := make([]types.ObjectIdentifier, len(batch))
		for i, key := range batch {
			objects[i] = types.ObjectIdentifier{Key: aws.String(key)}
		}
		out, err := s.client.api.DeleteObjects(ctx, &awss3.DeleteObjectsInput{
			Bucket: aws.String(s.client.bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return wrapError("delete registrations", err)
		}
		if len(out.Errors) > 0 {
			e := out.Errors[0]
			return fmt.Errorf("%w: delete %s: %s", shared.ErrStorage, aws.ToString(e.Key), aws.ToString(e.Message))
		}
	}
	return nil
}

// ListUsers pages through user directories in key order.
func (s *RegistrationStore) ListUsers(ctx context.Context, cursor string, limit int) ([]string, string, error) {
	defer observe("list_users", time.Now())

	base := s.usersPrefix()
	in := &awss3.ListObjectsV2Input{
		Bucket:    aws.String(s.client.bucket),
		Prefix:    aws.String(base),
		Delimiter: aws.String("/"),
	}
	if cursor != "" {
		// Sorts after every key inside the cursor user's directory.
		in.StartAfter = aws.String(base + url.PathEscape(cursor) + "/" + string(utf8.MaxRune))
	}
	if limit > 0 {
		in.MaxKeys = aws.Int32(int32(min(limit+1, 1000))) //nolint:gosec // bounded
	}

	var users []string
	paginator := awss3.NewListObjectsV2Paginator(s.client.api, in)
	for paginator.HasMorePages() && (limit <= 0 || len(users) <= limit) {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, "", wrapError("list users", err)
		}
		for _, p := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(p.Prefix), base), "/")
			user, err := url.PathUnescape(name)
			if err != nil {
				return nil, "", fmt.Errorf("%w: bad user directory %q", shared.ErrStorage, name)
			}
			users = append(users, user)
		}
	}

	if limit > 0 && len(users) > limit {
		users = users[:limit]
		return users, users[limit-1], nil
	}
	return users, "", nil
}

func (s *RegistrationStore) listKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := awss3.NewListObjectsV2Paginator(s.client.api, &awss3.ListObjectsV2Input{
		Bucket: aws.String(s.client.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, wrapError("list registrations", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func unquote(etag *string) string {
	return strings.Trim(aws.ToString(etag), `"`)
}

func encodeRegistration(r *webhook.Registration) ([]byte, error) {
	rec := r.ToRecord()
	rec.Version = ""
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode registration: %w", err)
	}
	return data, nil
}

func decodeRegistration(data []byte, version string) (*webhook.Registration, error) {
	var rec webhook.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: decode registration: %w", shared.ErrStorage, err)
	}
	rec.Version = version
	return webhook.FromRecord(rec), nil
}
