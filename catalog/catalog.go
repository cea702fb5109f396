// Package catalog keeps saved images and their manifests in a SQLite
// database.
package catalog

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/wippyai/kbimage/errors"
	"github.com/wippyai/kbimage/image"
)

const schema = `
CREATE TABLE IF NOT EXISTS images (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL UNIQUE,
	version     INTEGER NOT NULL,
	size        INTEGER NOT NULL,
	expressions INTEGER NOT NULL,
	manifest    TEXT NOT NULL,
	data        BLOB NOT NULL,
	created_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_images_created ON images(created_at);
`

// Entry describes one cataloged image.
type Entry struct {
	CreatedAt   time.Time
	Manifest    *image.Manifest
	Name        string
	ID          uuid.UUID
	Size        int64
	Expressions int64
	Version     uint32
}

// Catalog is a SQLite-backed image store.
type Catalog struct {
	db   *sql.DB
	log  *zap.Logger
	path string
}

// Open opens or creates the catalog at path.
func Open(path string, log *zap.Logger) (*Catalog, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.IO(errors.PhaseCatalog, "create catalog directory", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.IO(errors.PhaseCatalog, "open catalog", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.IO(errors.PhaseCatalog, "initialize schema", err)
	}
	return &Catalog{db: db, log: log, path: path}, nil
}

// Close closes the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Path returns the database file path.
func (c *Catalog) Path() string {
	return c.path
}

// Put stores an image under name, replacing an earlier image with the same
// id. The image must have a readable manifest.
func (c *Catalog) Put(ctx context.Context, name string, data []byte) (*Entry, error) {
	if name == "" {
		return nil, errors.InvalidInput(errors.PhaseCatalog, "image name is empty")
	}
	m, err := image.ReadManifest(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	manifest, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseCatalog, errors.KindInternal, err, "encode manifest")
	}
	e := &Entry{
		ID:          m.ID,
		Name:        name,
		Version:     m.Version,
		Size:        m.Size,
		Expressions: m.Expressions,
		Manifest:    m,
		CreatedAt:   time.Now().UTC(),
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO images (id, name, version, size, expressions, manifest, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			manifest = excluded.manifest,
			data = excluded.data,
			created_at = excluded.created_at`,
		e.ID.String(), e.Name, e.Version, e.Size, e.Expressions, string(manifest), data, e.CreatedAt)
	if err != nil {
		return nil, errors.IO(errors.PhaseCatalog, "store image "+name, err)
	}
	c.log.Debug("image cataloged", zap.String("name", name), zap.Stringer("id", e.ID), zap.Int64("size", e.Size))
	return e, nil
}

// Get returns an image and its entry by name or id.
func (c *Catalog) Get(ctx context.Context, ref string) (*Entry, []byte, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, name, version, size, expressions, manifest, created_at, data
		FROM images WHERE name = ? OR id = ?`, ref, ref)
	var data []byte
	e, err := scanEntry(row, &data)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil, errors.NotFound(errors.PhaseCatalog, "image", ref)
	}
	if err != nil {
		return nil, nil, err
	}
	return e, data, nil
}

// List returns every entry, newest first.
func (c *Catalog) List(ctx context.Context) ([]Entry, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, name, version, size, expressions, manifest, created_at
		FROM images ORDER BY created_at DESC, name`)
	if err != nil {
		return nil, errors.IO(errors.PhaseCatalog, "list images", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.IO(errors.PhaseCatalog, "list images", err)
	}
	return out, nil
}

// Delete removes an image by name or id.
func (c *Catalog) Delete(ctx context.Context, ref string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM images WHERE name = ? OR id = ?`, ref, ref)
	if err != nil {
		return errors.IO(errors.PhaseCatalog, "delete image "+ref, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound(errors.PhaseCatalog, "image", ref)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner, data *[]byte) (*Entry, error) {
	var (
		e        Entry
		id       string
		manifest string
	)
	dest := []any{&id, &e.Name, &e.Version, &e.Size, &e.Expressions, &manifest, &e.CreatedAt}
	if data != nil {
		dest = append(dest, data)
	}
	if err := s.Scan(dest...); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.IO(errors.PhaseCatalog, "read entry", err)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseCatalog, errors.KindInvalidData, err, "entry id")
	}
	e.ID = parsed
	e.Manifest = &image.Manifest{}
	if err := json.Unmarshal([]byte(manifest), e.Manifest); err != nil {
		return nil, errors.Wrap(errors.PhaseCatalog, errors.KindInvalidData, err, "entry manifest")
	}
	return &e, nil
}
