package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"dirindex/internal/index/store"
	"dirindex/internal/model"
)

//go:embed schema.sql
var schemaSQL string

const dirColumns = `id, path, dir, depth, type, readme, link, archive_path, title, url, record_type`

type Store struct {
	db     *sql.DB
	hasFTS bool
}

func Open(dbPath string) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("dbPath is required")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}

	// Pragmas in the DSN apply to every pooled connection; concurrent writers
	// wait on the lock instead of failing with SQLITE_BUSY.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_txlock=immediate")
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Backend() string { return "sqlite" }

func (s *Store) HasFTS() bool { return s != nil && s.hasFTS }

func (s *Store) AddDirs(ctx context.Context, dirs []store.DirUpsert) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store is not open")
	}
	if len(dirs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().Unix()
	for _, d := range dirs {
		if strings.TrimSpace(d.ID) == "" {
			return fmt.Errorf("document id is required")
		}
		doc := d.Document
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO dirs (`+dirColumns+`, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			   path=excluded.path,
			   dir=excluded.dir,
			   depth=excluded.depth,
			   type=excluded.type,
			   readme=excluded.readme,
			   link=excluded.link,
			   archive_path=excluded.archive_path,
			   title=excluded.title,
			   url=excluded.url,
			   record_type=excluded.record_type,
			   updated_at=excluded.updated_at`,
			d.ID,
			doc.Path,
			doc.Dir,
			doc.Depth,
			doc.Type,
			doc.Readme,
			boolInt(doc.Link),
			doc.ArchivePath,
			doc.Title,
			doc.URL,
			doc.RecordType,
			now,
		); err != nil {
			return err
		}
	}
	if err := bumpVersion(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) DeleteDirs(ctx context.Context, ids []string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store is not open")
	}
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM dirs WHERE id = ?`, id); err != nil {
			return err
		}
	}
	if err := bumpVersion(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) UpdateReadmes(ctx context.Context, updates []store.ReadmeUpdate) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("store is not open")
	}
	if len(updates) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().Unix()
	updated := 0
	for _, u := range updates {
		res, err := tx.ExecContext(ctx,
			`UPDATE dirs SET readme = ?, updated_at = ? WHERE id = ?`,
			u.Readme, now, u.ID,
		)
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		updated += int(n)
	}
	if updated == 0 {
		return 0, nil
	}
	if err := bumpVersion(ctx, tx); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return updated, nil
}

func (s *Store) GetDir(ctx context.Context, id string) (model.DirectoryDocument, error) {
	if s == nil || s.db == nil {
		return model.DirectoryDocument{}, fmt.Errorf("store is not open")
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+dirColumns+` FROM dirs WHERE id = ?`, id)
	d, err := scanDir(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DirectoryDocument{}, store.ErrNotFound
	}
	return d, err
}

func (s *Store) Search(ctx context.Context, q string, limit int) ([]model.SearchHit, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store is not open")
	}
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, fmt.Errorf("query is required")
	}
	if limit <= 0 {
		limit = 20
	}

	var (
		rows *sql.Rows
		err  error
	)
	if s.hasFTS {
		rows, err = s.db.QueryContext(ctx,
			`SELECT d.id, d.path, d.dir, d.depth, d.type, d.readme, d.link, d.archive_path, d.title, d.url, d.record_type, -bm25(dirs_fts)
			 FROM dirs_fts JOIN dirs d ON d.rowid = dirs_fts.rowid
			 WHERE dirs_fts MATCH ?
			 ORDER BY bm25(dirs_fts), d.path
			 LIMIT ?`,
			ftsPhrase(q), limit,
		)
	} else {
		like := "%" + q + "%"
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+dirColumns+`, 0
			 FROM dirs
			 WHERE path LIKE ? OR readme LIKE ? OR title LIKE ?
			 ORDER BY path
			 LIMIT ?`,
			like, like, like, limit,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SearchHit
	for rows.Next() {
		var (
			d     model.DirectoryDocument
			link  int
			score float64
		)
		if err := rows.Scan(&d.ID, &d.Path, &d.Dir, &d.Depth, &d.Type, &d.Readme, &link, &d.ArchivePath, &d.Title, &d.URL, &d.RecordType, &score); err != nil {
			return nil, err
		}
		d.Link = link != 0
		out = append(out, model.SearchHit{ID: d.ID, Score: score, Doc: d})
	}
	return out, rows.Err()
}

func (s *Store) Count(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("store is not open")
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM dirs`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Version reports how many mutation batches the index has applied.
func (s *Store) Version(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("store is not open")
	}
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM index_meta WHERE key = 'version'`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return v, err
}

func (s *Store) init() error {
	if _, err := s.db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return err
	}
	_, _ = s.db.Exec("PRAGMA journal_mode = WAL")

	if err := execStatements(s.db, schemaSQL); err != nil {
		return err
	}

	s.hasFTS = true
	if err := s.tryCreateFTS(); err != nil {
		s.hasFTS = false
	}

	return nil
}

func (s *Store) tryCreateFTS() error {
	// FTS is optional: if the driver/build does not support fts5 we fall back to LIKE.
	stmts := []string{
		`CREATE VIRTUAL TABLE IF NOT EXISTS dirs_fts
		 USING fts5(
		   path,
		   dir,
		   title,
		   readme,
		   content='dirs',
		   content_rowid='rowid'
		 )`,
		`CREATE TRIGGER IF NOT EXISTS dirs_ai AFTER INSERT ON dirs BEGIN
		   INSERT INTO dirs_fts(rowid, path, dir, title, readme)
		   VALUES (new.rowid, new.path, new.dir, new.title, new.readme);
		 END`,
		`CREATE TRIGGER IF NOT EXISTS dirs_ad AFTER DELETE ON dirs BEGIN
		   INSERT INTO dirs_fts(dirs_fts, rowid, path, dir, title, readme)
		   VALUES('delete', old.rowid, old.path, old.dir, old.title, old.readme);
		 END`,
		`CREATE TRIGGER IF NOT EXISTS dirs_au AFTER UPDATE ON dirs BEGIN
		   INSERT INTO dirs_fts(dirs_fts, rowid, path, dir, title, readme)
		   VALUES('delete', old.rowid, old.path, old.dir, old.title, old.readme);
		   INSERT INTO dirs_fts(rowid, path, dir, title, readme)
		   VALUES (new.rowid, new.path, new.dir, new.title, new.readme);
		 END`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDir(row rowScanner) (model.DirectoryDocument, error) {
	var (
		d    model.DirectoryDocument
		link int
	)
	if err := row.Scan(&d.ID, &d.Path, &d.Dir, &d.Depth, &d.Type, &d.Readme, &link, &d.ArchivePath, &d.Title, &d.URL, &d.RecordType); err != nil {
		return model.DirectoryDocument{}, err
	}
	d.Link = link != 0
	return d, nil
}

func bumpVersion(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO index_meta (key, value) VALUES ('version', 1)
		 ON CONFLICT(key) DO UPDATE SET value = value + 1`,
	)
	return err
}

func ftsPhrase(q string) string {
	return `"` + strings.ReplaceAll(q, `"`, `""`) + `"`
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func execStatements(db *sql.DB, sqlText string) error {
	if db == nil {
		return fmt.Errorf("db is nil")
	}
	sqlText = strings.ReplaceAll(sqlText, "\r\n", "\n")

	var cleaned strings.Builder
	for _, line := range strings.Split(sqlText, "\n") {
		trim := strings.TrimSpace(line)
		if trim == "" {
			continue
		}
		if strings.HasPrefix(trim, "--") {
			continue
		}
		cleaned.WriteString(line)
		cleaned.WriteString("\n")
	}

	parts := strings.Split(cleaned.String(), ";")
	for _, raw := range parts {
		stmt := strings.TrimSpace(raw)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}
