// Package worker drains the notification queue and the webhook outbox.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"signline/internal/domain"
	"signline/internal/logging"
	"signline/internal/repo"
)

const (
	defaultInterval = 2 * time.Second
	defaultTimeout  = 5 * time.Second
	defaultBatch    = 100
)

var ErrLocked = errors.New("another worker holds the workspace lock")

// Deliverer sends one notification task. Errors are final.
type Deliverer interface {
	Deliver(ctx context.Context, task domain.NotificationTask) error
}

type Options struct {
	Interval       time.Duration
	Batch          int
	WebhookTimeout time.Duration
	// LockPath is the lock file that keeps a single worker per workspace.
	LockPath string
}

type Worker struct {
	repo     repo.Repo
	notifier Deliverer
	client   *http.Client
	opts     Options
	logger   *slog.Logger
	lock     *flock.Flock
	wake     chan struct{}

	Now func() time.Time
}

// Stats counts the outcomes of one drain pass.
type Stats struct {
	Sent             int
	Failed           int
	WebhooksOK       int
	WebhooksFailed   int
	EventsDispatched int
}

func New(r repo.Repo, notifier Deliverer, opts Options, logger *slog.Logger) *Worker {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Batch <= 0 {
		opts.Batch = defaultBatch
	}
	if opts.WebhookTimeout <= 0 {
		opts.WebhookTimeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{
		repo:     r,
		notifier: notifier,
		client:   &http.Client{Timeout: opts.WebhookTimeout},
		opts:     opts,
		logger:   logger.With(logging.FieldComponent, "worker"),
		wake:     make(chan struct{}, 1),
		Now:      time.Now,
	}
	if opts.LockPath != "" {
		w.lock = flock.New(opts.LockPath)
	}
	return w
}

// LockPath returns the worker lock file inside a workspace state directory.
func LockPath(stateDir string) string {
	return filepath.Join(stateDir, "worker.lock")
}

func (w *Worker) now() string {
	return w.Now().UTC().Format(time.RFC3339)
}

// Wake asks a running worker to drain now instead of at the next tick.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run drains until ctx is done. It refuses to start while another process
// holds the workspace lock.
func (w *Worker) Run(ctx context.Context) error {
	if w.lock != nil {
		ok, err := w.lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquire worker lock: %w", err)
		}
		if !ok {
			return ErrLocked
		}
		defer func() {
			if err := w.lock.Unlock(); err != nil {
				w.logger.Warn("release worker lock failed", logging.FieldError, err)
			}
		}()
	}
	if n, err := w.repo.AbandonSending(ctx); err != nil {
		return fmt.Errorf("recover interrupted notifications: %w", err)
	} else if n > 0 {
		w.logger.Warn("notifications interrupted by a previous worker marked failed", "count", n)
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()
	for {
		if _, err := w.Drain(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("drain failed", logging.FieldError, err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-w.wake:
		}
	}
}

// Drain runs one pass over pending notifications and undispatched events.
func (w *Worker) Drain(ctx context.Context) (Stats, error) {
	var st Stats
	if err := w.drainNotifications(ctx, &st); err != nil {
		return st, err
	}
	if err := w.drainWebhooks(ctx, &st); err != nil {
		return st, err
	}
	return st, nil
}

func (w *Worker) drainNotifications(ctx context.Context, st *Stats) error {
	tasks, err := w.repo.ClaimNotifications(ctx, w.opts.Batch)
	if err != nil {
		return fmt.Errorf("claim notifications: %w", err)
	}
	for _, task := range tasks {
		status, msg := domain.TaskSent, ""
		if err := w.notifier.Deliver(ctx, task); err != nil {
			status, msg = domain.TaskFailed, err.Error()
			st.Failed++
			w.logger.Warn("notification failed",
				logging.FieldTaskID, task.ID,
				logging.FieldEnvelopeID, task.EnvelopeID,
				logging.FieldSignerEmail, task.Email,
				logging.FieldError, err)
		} else {
			st.Sent++
		}
		if err := w.repo.FinishNotification(ctx, task.ID, status, msg, w.now()); err != nil {
			return fmt.Errorf("record notification %d: %w", task.ID, err)
		}
	}
	return nil
}
