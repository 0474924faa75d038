package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/00vip7-stack/hedge-dashboard/src/database"
)

// sortableTime is fixed width so string order in SQLite equals time order.
const sortableTime = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(sortableTime)
}

// SQLiteStore is the indexed primary tier backed by the provenance_archive
// table.
type SQLiteStore struct {
	db *sql.DB
}

// archiveColumns are the provenance_archive columns Save and List touch.
var archiveColumns = []string{
	"id", "archived_at", "uploaded_at", "filename", "filename_lower", "checksum",
	"system_name", "user_id", "quality", "status", "document", "search_text",
}

// OpenSQLiteStore opens (and migrates) the archive database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := database.InitDB(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArchiveUnavailable, err)
	}
	s, err := NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps an already migrated database handle after checking
// that its schema carries every archive column.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	cols, err := database.ColumnNames(db, "provenance_archive")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArchiveUnavailable, err)
	}
	have := make(map[string]bool, len(cols))
	for _, c := range cols {
		have[c] = true
	}
	var missing []string
	for _, c := range archiveColumns {
		if !have[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: provenance_archive is missing column(s) %s", ErrArchiveUnavailable, strings.Join(missing, ", "))
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Name() string { return "sqlite" }

// Save writes the document and its index columns in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, rec ArchivedProvenance) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("error encoding provenance %s: %w", rec.ID, err)
	}
	k := rec.Keys()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: error beginning transaction: %v", ErrArchiveUnavailable, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO provenance_archive
		(id, archived_at, uploaded_at, filename, filename_lower, checksum, system_name, user_id, quality, status, document, search_text)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, formatTime(rec.Timestamp), formatTime(k.UploadedAt), k.Filename, strings.ToLower(k.Filename),
		k.Checksum, k.System, k.UserID, k.Quality, k.Status, string(doc), strings.ToLower(string(doc)))
	if err != nil {
		return fmt.Errorf("%w: error inserting provenance %s: %v", ErrArchiveUnavailable, rec.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: error committing provenance %s: %v", ErrArchiveUnavailable, rec.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (ArchivedProvenance, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM provenance_archive WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return ArchivedProvenance{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return ArchivedProvenance{}, fmt.Errorf("%w: %v", ErrArchiveUnavailable, err)
	}
	return decodeRecord([]byte(doc))
}

// List translates the filter into indexed WHERE clauses.
func (s *SQLiteStore) List(ctx context.Context, f Filter) ([]ArchivedProvenance, error) {
	query, args := buildQuery(f)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArchiveUnavailable, err)
	}
	defer rows.Close()

	out := []ArchivedProvenance{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("error scanning provenance row: %w", err)
		}
		rec, err := decodeRecord([]byte(doc))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func buildQuery(f Filter) (string, []any) {
	var where []string
	var args []any
	add := func(clause string, vals ...any) {
		where = append(where, clause)
		args = append(args, vals...)
	}
	if f.Filename != "" {
		add(`filename_lower LIKE ? ESCAPE '\'`, "%"+escapeLike(strings.ToLower(f.Filename))+"%")
	}
	if f.System != "" {
		add(`system_name = ?`, f.System)
	}
	if f.DateFrom != nil {
		add(`uploaded_at >= ?`, formatTime(*f.DateFrom))
	}
	if f.DateTo != nil {
		add(`uploaded_at <= ?`, formatTime(*f.DateTo))
	}
	if f.MinQuality != nil {
		add(`quality >= ?`, *f.MinQuality)
	}
	if f.MaxQuality != nil {
		add(`quality <= ?`, *f.MaxQuality)
	}
	if f.Status != "" {
		add(`status = ?`, f.Status)
	}
	if f.UserID != "" {
		add(`user_id = ?`, f.UserID)
	}
	if f.Checksum != "" {
		add(`checksum = ?`, f.Checksum)
	}
	if f.FullText != "" {
		add(`search_text LIKE ? ESCAPE '\'`, "%"+escapeLike(strings.ToLower(f.FullText))+"%")
	}

	var b strings.Builder
	b.WriteString(`SELECT document FROM provenance_archive`)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(` ORDER BY archived_at DESC, seq DESC`)
	if f.Limit > 0 || f.Offset > 0 {
		limit := f.Limit
		if limit <= 0 {
			limit = -1
		}
		b.WriteString(` LIMIT ? OFFSET ?`)
		args = append(args, limit, f.Offset)
	}
	return b.String(), args
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM provenance_archive WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrArchiveUnavailable, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrArchiveUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func decodeRecord(b []byte) (ArchivedProvenance, error) {
	var rec ArchivedProvenance
	if err := json.Unmarshal(b, &rec); err != nil {
		return ArchivedProvenance{}, fmt.Errorf("error decoding archived provenance: %w", err)
	}
	return rec, nil
}
