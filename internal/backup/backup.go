// Package backup copies a workspace out: every stored artifact into one zip
// and the sqlite database into a dated snapshot.
package backup

import (
	"archive/zip"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"signline/internal/storage"
)

// ErrEmptyStore reports that there is nothing to archive.
var ErrEmptyStore = errors.New("object store is empty")

// Result describes the files written by Run.
type Result struct {
	Database        string `json:"database"`
	DatabaseExisted bool   `json:"database_existed"`
	Archive         string `json:"archive,omitempty"`
	Objects         int    `json:"objects"`
}

// DatabaseName is the snapshot file for one calendar day.
func DatabaseName(at time.Time) string {
	return "signline-" + at.Format("2006-01-02") + ".db"
}

// ArchiveName is the artifact archive written at one instant.
func ArchiveName(at time.Time) string {
	return fmt.Sprintf("signline-artifacts-%d.zip", at.UnixMilli())
}

// Keys lists every object in the store, failing with ErrEmptyStore when there
// are none.
func Keys(ctx context.Context, store storage.Store) ([]string, error) {
	keys, err := store.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	if len(keys) == 0 {
		return nil, ErrEmptyStore
	}
	return keys, nil
}

// WriteArchive streams the objects named by keys into a zip on w. Entries keep
// their store keys as paths.
func WriteArchive(ctx context.Context, store storage.Store, keys []string, w io.Writer) error {
	zw := zip.NewWriter(w)
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := store.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("read %s: %w", key, err)
		}
		f, err := zw.Create(key)
		if err != nil {
			return err
		}
		if _, err := f.Write(data); err != nil {
			return err
		}
	}
	return zw.Close()
}

// SnapshotDatabase writes a consistent copy of conn to dir with VACUUM INTO.
// A snapshot already taken today is kept and reported as existing.
func SnapshotDatabase(ctx context.Context, conn *sql.DB, dir string, at time.Time) (string, bool, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, err
	}
	path := filepath.Join(dir, DatabaseName(at))
	if _, err := os.Stat(path); err == nil {
		return path, true, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", false, err
	}
	if _, err := conn.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return "", false, fmt.Errorf("snapshot database: %w", err)
	}
	return path, false, nil
}

type Options struct {
	Dir           string
	SkipArtifacts bool
	Now           func() time.Time
}

// Run snapshots the database and, unless skipped, archives the object store
// into opts.Dir. An empty store still yields the database snapshot.
func Run(ctx context.Context, conn *sql.DB, store storage.Store, opts Options) (Result, error) {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	at := now()
	var res Result
	path, existed, err := SnapshotDatabase(ctx, conn, opts.Dir, at)
	if err != nil {
		return res, err
	}
	res.Database, res.DatabaseExisted = path, existed
	if opts.SkipArtifacts {
		return res, nil
	}

	keys, err := Keys(ctx, store)
	if errors.Is(err, ErrEmptyStore) {
		return res, nil
	}
	if err != nil {
		return res, err
	}
	archive := filepath.Join(opts.Dir, ArchiveName(at))
	f, err := os.OpenFile(archive, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return res, err
	}
	if err := WriteArchive(ctx, store, keys, f); err != nil {
		f.Close()
		os.Remove(archive)
		return res, err
	}
	if err := f.Close(); err != nil {
		os.Remove(archive)
		return res, err
	}
	res.Archive, res.Objects = archive, len(keys)
	return res, nil
}
