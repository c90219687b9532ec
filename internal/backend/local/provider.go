// Package local is the demo-mode backend. It implements the backend
// collaborator on top of embedded storage: SQLite for records, Badger for
// refresh sessions, and a Bleve index for full-text book search.
package local

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/shelfnotes/shelfnotes-server/internal/auth"
	"github.com/shelfnotes/shelfnotes-server/internal/backend"
	"github.com/shelfnotes/shelfnotes-server/internal/search"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Options configures the local provider.
type Options struct {
	DataPath        string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	// SeedPath is a YAML catalog loaded into an empty books table. The
	// embedded demo catalog is used when it is empty.
	SeedPath string
	Logger   *slog.Logger
}

// Provider owns the embedded stores shared by every local client.
type Provider struct {
	db       *sql.DB
	sessions *sessionStore
	index    *search.Index
	tokens   *auth.TokenService
	logger   *slog.Logger
	now      func() time.Time
}

var _ backend.Provider = (*Provider)(nil)

// Open creates or opens the local backend under opts.DataPath.
func Open(opts Options) (*Provider, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.AccessTokenTTL <= 0 {
		opts.AccessTokenTTL = 15 * time.Minute
	}
	if opts.RefreshTokenTTL <= 0 {
		opts.RefreshTokenTTL = 30 * 24 * time.Hour
	}

	if err := os.MkdirAll(opts.DataPath, 0o750); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	key, err := auth.LoadOrGenerateKey(opts.DataPath)
	if err != nil {
		return nil, fmt.Errorf("load auth key: %w", err)
	}
	tokens, err := auth.NewTokenService(key, opts.AccessTokenTTL, opts.RefreshTokenTTL)
	if err != nil {
		return nil, err
	}

	db, err := openSQLite(filepath.Join(opts.DataPath, "shelfnotes.db"))
	if err != nil {
		return nil, err
	}

	badgerOpts := badger.DefaultOptions(filepath.Join(opts.DataPath, "sessions"))
	badgerOpts.Logger = nil
	badgerOpts.SyncWrites = true
	kv, err := badger.Open(badgerOpts)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open session store: %w", err)
	}

	index, err := search.Open(search.Options{DataPath: opts.DataPath, Logger: logger})
	if err != nil {
		kv.Close()
		db.Close()
		return nil, fmt.Errorf("open search index: %w", err)
	}

	p := &Provider{
		db:       db,
		sessions: &sessionStore{db: kv},
		index:    index,
		tokens:   tokens,
		logger:   logger,
		now:      time.Now,
	}

	if err := p.syncIndex(context.Background(), opts.SeedPath); err != nil {
		p.Close()
		return nil, err
	}

	logger.Info("local backend opened", "path", opts.DataPath)
	return p, nil
}

func openSQLite(path string) (*sql.DB, error) {
	// Connection-scoped pragmas go in the DSN so every pooled connection gets them.
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("exec schema: %w", err)
	}
	return db, nil
}

// Name identifies the backend in the instance endpoint.
func (p *Provider) Name() string { return "local" }

// NewClient returns a client with its own signed-out session.
func (p *Provider) NewClient() (*backend.Client, error) {
	a := &authClient{p: p, events: backend.NewBroadcaster()}
	return &backend.Client{
		Auth: a,
		DB:   &recordStore{p: p, auth: a},
	}, nil
}

// Close releases every store. It is safe to call on a partially opened provider.
func (p *Provider) Close() error {
	var firstErr error
	if p.index != nil {
		if err := p.index.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if p.sessions != nil {
		if err := p.sessions.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if p.db != nil {
		if err := p.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// formatTime formats a time.Time to RFC3339Nano for storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
