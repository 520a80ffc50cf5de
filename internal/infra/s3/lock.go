package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cenkalti/backoff/v5"
)

var errLockHeld = errors.New("lock held")

// lease is the body of a lock object.
type lease struct {
	ExpiresAt time.Time `json:"expires_at"`
}

// userLock is a mutex held as an object created with If-None-Match. A holder
// that dies leaves the object behind; once its lease expires the next caller
// removes it with If-Match on the ETag it read.
type userLock struct {
	client *Client
	ttl    time.Duration
	now    func() time.Time
}

// acquire blocks until the lock for key is taken, ctx ends or the lease
// period passes. It returns the ETag needed to release the lock.
func (l *userLock) acquire(ctx context.Context, key string) (string, error) {
	take := func() (string, error) {
		etag, err := l.tryTake(ctx, key)
		if err == nil {
			return etag, nil
		}
		if !errors.Is(err, errLockHeld) {
			return "", backoff.Permanent(err)
		}
		if err := l.breakExpired(ctx, key); err != nil {
			return "", backoff.Permanent(err)
		}
		return "", err
	}
	retry := &backoff.ExponentialBackOff{
		InitialInterval:     10 * time.Millisecond,
		MaxInterval:         250 * time.Millisecond,
		Multiplier:          2,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
	}
	etag, err := backoff.Retry(ctx, take, backoff.WithBackOff(retry), backoff.WithMaxElapsedTime(l.ttl))
	if errors.Is(err, errLockHeld) {
		return "", fmt.Errorf("%w: lock %s", errLockHeld, key)
	}
	return etag, err
}

func (l *userLock) tryTake(ctx context.Context, key string) (string, error) {
	body, err := json.Marshal(lease{ExpiresAt: l.now().Add(l.ttl)})
	if err != nil {
		return "", err
	}
	out, err := l.client.api.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:      aws.String(l.client.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		IfNoneMatch: aws.String("*"),
	})
	if isConflict(err) {
		return "", errLockHeld
	}
	if err != nil {
		return "", wrapError("take lock", err)
	}
	return aws.ToString(out.ETag), nil
}

// breakExpired deletes the lock object when its lease has run out. A lock
// released or replaced meanwhile is left alone.
func (l *userLock) breakExpired(ctx context.Context, key string) error {
	out, err := l.client.api.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(l.client.bucket),
		Key:    aws.String(key),
	})
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return wrapError("read lock", err)
	}
	defer func() { _ = out.Body.Close() }()

	var held lease
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return wrapError("read lock", err)
	}
	if err := json.Unmarshal(data, &held); err == nil && l.now().Before(held.ExpiresAt) {
		return nil
	}

	l.client.logger.Warn("breaking expired s3 lock", "key", key, "expired_at", held.ExpiresAt)
	return l.release(ctx, key, aws.ToString(out.ETag))
}

// release deletes the lock only if it is still the one identified by etag.
func (l *userLock) release(ctx context.Context, key, etag string) error {
	_, err := l.client.api.DeleteObject(context.WithoutCancel(ctx), &awss3.DeleteObjectInput{
		Bucket:  aws.String(l.client.bucket),
		Key:     aws.String(key),
		IfMatch: aws.String(etag),
	})
	if err == nil || isConflict(err) || isNotFound(err) {
		return nil
	}
	return wrapError("release lock", err)
}
