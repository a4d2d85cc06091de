// Package app wires a workspace's config into a running signline instance.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"signline/internal/assembly"
	"signline/internal/config"
	"signline/internal/db"
	"signline/internal/engine"
	"signline/internal/logging"
	"signline/internal/migrate"
	"signline/internal/notify"
	"signline/internal/storage"
	"signline/internal/worker"
)

const mailTimeout = 30 * time.Second

// App holds the collaborators built from one workspace.
type App struct {
	Workspace string
	Config    *config.Config
	Logger    *slog.Logger
	DB        *sql.DB
	Store     storage.Store
	// FilesDir is the local artifact directory, empty for remote stores.
	FilesDir string
	Engine   engine.Engine
	Worker   *worker.Worker
}

// Open prepares the workspace database, applies pending migrations and
// builds the engine and its delivery worker.
func Open(ctx context.Context, workspace string, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.Default(workspace)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	stateDir, err := db.EnsureWorkspace(workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	store, filesDir, err := NewStore(ctx, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	mailer, err := NewMailer(cfg, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}

	asm := assembly.New(
		assembly.NewPDFCPU(),
		assembly.NewGotenberg(cfg.Renderer.URL, cfg.Renderer.Timeout.Std()),
		logger.With(logging.FieldComponent, "assembly"))
	eng := engine.New(conn, cfg, store, asm, logger)
	w := worker.New(eng.Repo, notify.Dispatcher{Mailer: mailer, Logger: logger}, worker.Options{
		Interval:       cfg.Worker.Interval.Std(),
		Batch:          cfg.Worker.Batch,
		WebhookTimeout: cfg.Worker.WebhookTimeout.Std(),
		LockPath:       worker.LockPath(stateDir),
	}, logger)
	eng.Wake = w.Wake

	return &App{
		Workspace: workspace,
		Config:    cfg,
		Logger:    logger,
		DB:        conn,
		Store:     store,
		FilesDir:  filesDir,
		Engine:    eng,
		Worker:    w,
	}, nil
}

func (a *App) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	return a.DB.Close()
}

// NewStore builds the configured artifact store. The returned directory is
// set only for the local driver.
func NewStore(ctx context.Context, cfg *config.Config) (storage.Store, string, error) {
	switch cfg.Storage.Driver {
	case "s3":
		s3cfg := cfg.Storage.S3
		store, err := storage.NewS3(ctx, storage.S3Options{
			Bucket:          s3cfg.Bucket,
			Region:          s3cfg.Region,
			Endpoint:        s3cfg.Endpoint,
			AccessKeyID:     s3cfg.AccessKeyID,
			SecretAccessKey: s3cfg.SecretAccessKey,
			UsePathStyle:    s3cfg.UsePathStyle,
			BaseURL:         cfg.Storage.PublicBaseURL,
		})
		if err != nil {
			return nil, "", err
		}
		return store, "", nil
	case "local", "":
		store, err := storage.NewLocal(cfg.Storage.LocalDir, cfg.Storage.PublicBaseURL)
		if err != nil {
			return nil, "", err
		}
		return store, store.Dir, nil
	default:
		return nil, "", fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// NewMailer builds the configured mailer. The log driver never sends.
func NewMailer(cfg *config.Config, logger *slog.Logger) (notify.Mailer, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	switch cfg.Mail.Driver {
	case "smtp":
		return notify.NewSMTP(notify.SMTPOptions{
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
			TLS:      cfg.Mail.TLS,
			Timeout:  mailTimeout,
		})
	case "log", "":
		return notify.LogMailer{Logger: logger.With(logging.FieldComponent, "mail")}, nil
	default:
		return nil, fmt.Errorf("unknown mail driver %q", cfg.Mail.Driver)
	}
}
