package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dgnsrekt/tabpanel/internal/types"
	"github.com/google/uuid"
)

// ErrNotFound is returned by Get for an unknown extraction id.
var ErrNotFound = errors.New("extraction not found")

const extractionSchema = `
CREATE TABLE IF NOT EXISTS extractions (
	id         TEXT PRIMARY KEY,
	tab_id     TEXT NOT NULL,
	url        TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_extractions_created ON extractions(created_at DESC);

CREATE TABLE IF NOT EXISTS canvases (
	extraction_id TEXT NOT NULL REFERENCES extractions(id) ON DELETE CASCADE,
	idx           INTEGER NOT NULL,
	width         INTEGER NOT NULL,
	height        INTEGER NOT NULL,
	data_preview  TEXT NOT NULL DEFAULT '',
	data_length   INTEGER NOT NULL DEFAULT 0,
	data_sha256   TEXT NOT NULL DEFAULT '',
	success       INTEGER NOT NULL,
	error         TEXT NOT NULL DEFAULT '',
	image_path    TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (extraction_id, idx)
);`

// ExtractionStore keeps canvas extractions in SQLite.
type ExtractionStore struct {
	db    *sql.DB
	now   func() time.Time
	newID func() string
}

// OpenExtractionStore opens (or creates) the extraction database at path.
func OpenExtractionStore(path string) (*ExtractionStore, error) {
	db, err := Open(path, WithMkdirAll(), WithSchema(extractionSchema))
	if err != nil {
		return nil, err
	}
	return NewExtractionStore(db), nil
}

// NewExtractionStore wraps a database that already carries the schema.
func NewExtractionStore(db *sql.DB) *ExtractionStore {
	return &ExtractionStore{
		db:    db,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

func (s *ExtractionStore) Close() error {
	return s.db.Close()
}

// Save records an extraction and its canvases in one transaction. A missing
// id or timestamp is filled in; the stored value is returned.
func (s *ExtractionStore) Save(ctx context.Context, ext types.Extraction) (types.Extraction, error) {
	if ext.ID == "" {
		ext.ID = s.newID()
	}
	if ext.CreatedAt.IsZero() {
		ext.CreatedAt = s.now()
	}
	ext.CreatedAt = ext.CreatedAt.UTC().Truncate(time.Millisecond)
	if ext.Canvases == nil {
		ext.Canvases = []types.CanvasInfo{}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Extraction{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO extractions (id, tab_id, url, created_at) VALUES (?, ?, ?, ?)`,
		ext.ID, string(ext.TabID), ext.URL, ext.CreatedAt.UnixMilli()); err != nil {
		return types.Extraction{}, fmt.Errorf("insert extraction: %w", err)
	}
	for _, c := range ext.Canvases {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO canvases (extraction_id, idx, width, height, data_preview, data_length, data_sha256, success, error, image_path)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ext.ID, c.Index, c.Width, c.Height, c.DataURL, c.DataLength, c.DataSHA256, c.Success, c.Error, c.ImagePath); err != nil {
			return types.Extraction{}, fmt.Errorf("insert canvas %d: %w", c.Index, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return types.Extraction{}, fmt.Errorf("commit: %w", err)
	}
	return ext, nil
}

// List returns the newest extractions first, without their canvases.
// A non-positive limit means 50.
func (s *ExtractionStore) List(ctx context.Context, limit int) ([]types.Extraction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tab_id, url, created_at FROM extractions ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list extractions: %w", err)
	}
	defer rows.Close()

	out := []types.Extraction{}
	for rows.Next() {
		ext, err := scanExtraction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ext)
	}
	return out, rows.Err()
}

// Get returns one extraction with its canvases ordered by index.
func (s *ExtractionStore) Get(ctx context.Context, id string) (types.Extraction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tab_id, url, created_at FROM extractions WHERE id = ?`, id)
	ext, err := scanExtraction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Extraction{}, ErrNotFound
	}
	if err != nil {
		return types.Extraction{}, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, width, height, data_preview, data_length, data_sha256, success, error, image_path
		 FROM canvases WHERE extraction_id = ? ORDER BY idx`, id)
	if err != nil {
		return types.Extraction{}, fmt.Errorf("list canvases: %w", err)
	}
	defer rows.Close()

	ext.Canvases = []types.CanvasInfo{}
	for rows.Next() {
		var c types.CanvasInfo
		if err := rows.Scan(&c.Index, &c.Width, &c.Height, &c.DataURL, &c.DataLength,
			&c.DataSHA256, &c.Success, &c.Error, &c.ImagePath); err != nil {
			return types.Extraction{}, fmt.Errorf("scan canvas: %w", err)
		}
		ext.Canvases = append(ext.Canvases, c)
	}
	return ext, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExtraction(r rowScanner) (types.Extraction, error) {
	var (
		ext   types.Extraction
		tabID string
		ms    int64
	)
	if err := r.Scan(&ext.ID, &tabID, &ext.URL, &ms); err != nil {
		return types.Extraction{}, err
	}
	ext.TabID = types.TabID(tabID)
	ext.CreatedAt = time.UnixMilli(ms).UTC()
	return ext, nil
}
