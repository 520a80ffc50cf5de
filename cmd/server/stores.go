package main

import (
	"context"
	"fmt"

	"github.com/openctemio/webhooks/internal/config"
	"github.com/openctemio/webhooks/internal/infra/http/handler"
	"github.com/openctemio/webhooks/internal/infra/memory"
	"github.com/openctemio/webhooks/internal/infra/postgres"
	"github.com/openctemio/webhooks/internal/infra/redis"
	"github.com/openctemio/webhooks/internal/infra/s3"
	"github.com/openctemio/webhooks/pkg/crypto"
	"github.com/openctemio/webhooks/pkg/domain/webhook"
	"github.com/openctemio/webhooks/pkg/logger"
)

// Infra holds the backing connections and the registration store.
type Infra struct {
	Store     webhook.Store
	Protector crypto.Protector // nil when encryption is not configured
	DB        *postgres.DB     // nil unless the postgres store is selected
	Redis     *redis.Client    // nil unless some component needs redis
	S3        *s3.Client       // nil unless the s3 store is selected

	closers []namedCloser
}

type namedCloser struct {
	name string
	c    closer
}

// HealthChecks returns the readiness probes for the opened connections.
func (i *Infra) HealthChecks() []handler.HealthHandlerOption {
	var opts []handler.HealthHandlerOption
	if i.DB != nil {
		opts = append(opts, handler.WithCheck("database", i.DB))
	}
	if i.Redis != nil {
		opts = append(opts, handler.WithCheck("redis", i.Redis))
	}
	if i.S3 != nil {
		opts = append(opts, handler.WithCheck("s3", i.S3))
	}
	return opts
}

// Close closes connections in reverse opening order.
func (i *Infra) Close(log *logger.Logger) {
	for j := len(i.closers) - 1; j >= 0; j-- {
		closeWithLog(i.closers[j].c, i.closers[j].name, log)
	}
}

// NewInfra opens the connections the configuration asks for and builds the
// registration store on top of them.
func NewInfra(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Infra, error) {
	infra := &Infra{}

	if cfg.NeedsRedis() {
		client, err := redis.New(&cfg.Redis, log)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		infra.Redis = client
		infra.closers = append(infra.closers, namedCloser{"redis", client})
	}

	var store webhook.Store
	switch cfg.WebHooks.Store {
	case config.StorePostgres:
		db, err := postgres.New(&cfg.Database)
		if err != nil {
			infra.Close(log)
			return nil, fmt.Errorf("connect database: %w", err)
		}
		infra.DB = db
		infra.closers = append(infra.closers, namedCloser{"database", db})

		if err := postgres.Migrate(ctx, db); err != nil {
			infra.Close(log)
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		store = postgres.NewRegistrationStore(db)
	case config.StoreRedis:
		store = redis.NewRegistrationStore(infra.Redis)
	case config.StoreS3:
		client, err := s3.New(ctx, &cfg.S3, log)
		if err != nil {
			infra.Close(log)
			return nil, fmt.Errorf("configure s3: %w", err)
		}
		infra.S3 = client
		store = s3.NewRegistrationStore(client, cfg.S3.LockTTL)
	default:
		store = memory.NewRegistrationStore()
	}
	log.Info("registration store initialized", "backend", cfg.WebHooks.Store)

	if cfg.Encryption.IsConfigured() {
		protector, err := newProtector(&cfg.Encryption)
		if err != nil {
			infra.Close(log)
			return nil, err
		}
		infra.Protector = protector
		store = webhook.NewProtectedStore(store, protector)
		log.Info("registration secrets encrypted at rest", "purpose", cfg.Encryption.Purpose)
	} else if cfg.WebHooks.Store != config.StoreMemory {
		log.Warn("ENCRYPTION_KEY not set, registration secrets are stored in plaintext")
	}

	infra.Store = store
	return infra, nil
}

func newProtector(cfg *config.EncryptionConfig) (crypto.Protector, error) {
	key, err := crypto.ParseKey(cfg.Key, cfg.KeyFormat)
	if err != nil {
		return nil, fmt.Errorf("parse encryption key: %w", err)
	}
	cipher, err := crypto.NewPurposeCipher(key, cfg.Purpose)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return cipher, nil
}
