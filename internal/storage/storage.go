// Package storage is the object store boundary for envelope artifacts.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"signline/internal/domain"
)

var (
	ErrNotFound = errors.New("object not found")
	ErrExists   = errors.New("object already exists")
)

// Store keeps artifacts by key. Keys are written once.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// List returns every key under prefix in lexical order. An empty
	// prefix lists the whole store.
	List(ctx context.Context, prefix string) ([]string, error)
	URL(key string) string
}

// Key joins a stage prefix and an artifact name.
func Key(prefix domain.ArtifactPrefix, name string) string {
	return path.Join(string(prefix), name)
}

func publicURL(base, key string) string {
	if base == "" {
		return "/" + key
	}
	return strings.TrimRight(base, "/") + "/" + key
}

// Namer produces artifact names of the form D-M-YYYY_<epoch ms>-<role>.pdf.
// Milliseconds never repeat within one Namer.
type Namer struct {
	Now func() time.Time

	mu   sync.Mutex
	last int64
}

func (n *Namer) now() time.Time {
	if n.Now != nil {
		return n.Now()
	}
	return time.Now()
}

// Name returns a fresh artifact name for role stamped with the Namer's clock.
func (n *Namer) Name(role string) string {
	return n.NameAt(n.now(), role, "pdf")
}

// NameAt returns a fresh name stamped at t with the given extension.
func (n *Namer) NameAt(t time.Time, role, ext string) string {
	n.mu.Lock()
	ms := t.UnixMilli()
	if ms <= n.last {
		ms = n.last + 1
	}
	n.last = ms
	n.mu.Unlock()
	return formatName(time.UnixMilli(ms).In(t.Location()), role, ext)
}

// ArtifactName formats one name without the uniqueness guard.
func ArtifactName(t time.Time, role string) string {
	return formatName(t, role, "pdf")
}

func formatName(t time.Time, role, ext string) string {
	return fmt.Sprintf("%d-%d-%d_%d-%s.%s", t.Day(), int(t.Month()), t.Year(), t.UnixMilli(), role, ext)
}
