package main

import (
	"context"
	"fmt"

	"trainchat/internal/app/db"
	"trainchat/internal/app/feed"
	"trainchat/internal/app/permission"
	"trainchat/internal/app/storage"
	"trainchat/internal/app/store"
	"trainchat/internal/app/user"
	"trainchat/internal/configs"
	"trainchat/internal/pkg/logx"
)

// backingStore is the opened store with the function releasing it.
type backingStore struct {
	store store.Store
	// upsert writes a directory record.
	upsert func(ctx context.Context, u user.User) error
	close  func()
}

func loadRules(cfg *configs.AppConfig) (*permission.Engine, error) {
	rs := permission.DefaultRuleSet()
	if cfg.RulesFile != "" {
		loaded, err := permission.LoadRuleSet(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		rs = loaded
		logx.Info("Chat rules loaded from file.", "path", cfg.RulesFile, "rules", len(rs.Rules), "groups", len(rs.Groups))
	}
	return permission.NewEngine(rs)
}

// openStore opens the configured store. For PostgreSQL it also starts the change listener,
// which runs until ctx is cancelled.
func openStore(ctx context.Context, cfg *configs.AppConfig) (*backingStore, error) {
	switch cfg.StoreDriver {
	case configs.StoreDriverMemory:
		mem := store.NewMemory()
		logx.Warn("Using the in-memory store. Data is lost on restart.")
		return &backingStore{
			store: mem,
			upsert: func(_ context.Context, u user.User) error {
				mem.PutUser(u)
				return nil
			},
			close: mem.Close,
		}, nil

	case configs.StoreDriverPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		hub := feed.NewHub()
		pg := db.NewStore(pool, hub)

		go db.NewListener(pool, hub).Run(ctx)

		return &backingStore{
			store:  pg,
			upsert: pg.UpsertUser,
			close: func() {
				hub.Close()
				pool.Close()
			},
		}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// seedDirectory loads the directory seed file, if any, into the store.
func seedDirectory(ctx context.Context, cfg *configs.AppConfig, b *backingStore) error {
	if cfg.DirectorySeedFile == "" {
		return nil
	}

	seed, err := store.LoadSeed(cfg.DirectorySeedFile)
	if err != nil {
		return err
	}
	for _, u := range seed.Users {
		if err := b.upsert(ctx, u); err != nil {
			return fmt.Errorf("seed user %s: %w", u.ID, err)
		}
	}

	logx.Info("User directory seeded.", "path", cfg.DirectorySeedFile, "users", len(seed.Users))
	return nil
}

// newAttachments returns nil when no bucket is configured.
func newAttachments(ctx context.Context, cfg *configs.AppConfig) (*storage.Attachments, error) {
	sc := storage.ServiceConfig{
		S3BucketName:      cfg.S3BucketName,
		S3Endpoint:        cfg.S3Endpoint,
		S3Region:          cfg.S3Region,
		S3AccessKeyID:     cfg.S3AccessKeyID,
		S3SecretAccessKey: cfg.S3SecretAccessKey,
	}
	if !sc.Enabled() {
		logx.Info("Attachments disabled: no S3 bucket configured.")
		return nil, nil
	}

	objects, err := storage.NewObjectStore(ctx, sc)
	if err != nil {
		return nil, err
	}
	return storage.NewAttachments(objects), nil
}
