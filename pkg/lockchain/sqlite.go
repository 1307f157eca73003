package lockchain

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Nerval-Labs/reflex/pkg/quorum"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists epoch roots in an embedded SQLite database. The
// default store for single-node deployments.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and migrates it.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("lockchain: open sqlite: %w", err)
	}
	// The kernel persists from a single goroutine per epoch; one
	// connection keeps writes serialized without busy retries.
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS epoch_roots (
		epoch INTEGER PRIMARY KEY,
		root TEXT NOT NULL,
		proof JSON,
		confirmed INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteStore) PersistRoot(ctx context.Context, epoch uint64, root string, proof *quorum.Proof) error {
	proofJSON, err := json.Marshal(proof)
	if err != nil {
		return fmt.Errorf("lockchain: encode proof: %w", err)
	}
	return s.persist(ctx, epoch, root, string(proofJSON), true)
}

func (s *SQLiteStore) PersistPending(ctx context.Context, epoch uint64, root string) error {
	return s.persist(ctx, epoch, root, "", false)
}

func (s *SQLiteStore) persist(ctx context.Context, epoch uint64, root, proofJSON string, confirmed bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("lockchain: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existingRoot string
	var existingConfirmed bool
	err = tx.QueryRowContext(ctx,
		`SELECT root, confirmed FROM epoch_roots WHERE epoch = ?`, epoch,
	).Scan(&existingRoot, &existingConfirmed)
	switch {
	case err == nil:
		if existingConfirmed && existingRoot != root {
			return fmt.Errorf("%w: epoch %d", ErrRootConflict, epoch)
		}
		if existingConfirmed {
			// Idempotent re-persist of the same confirmed root.
			return tx.Commit()
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE epoch_roots SET root = ?, proof = ?, confirmed = ?, created_at = ? WHERE epoch = ?`,
			root, nullable(proofJSON), confirmed, now(), epoch)
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx,
			`INSERT INTO epoch_roots (epoch, root, proof, confirmed, created_at) VALUES (?, ?, ?, ?, ?)`,
			epoch, root, nullable(proofJSON), confirmed, now())
	default:
		return fmt.Errorf("lockchain: lookup epoch %d: %w", epoch, err)
	}
	if err != nil {
		return fmt.Errorf("lockchain: persist epoch %d: %w", epoch, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetRoot(ctx context.Context, epoch uint64) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT epoch, root, proof, confirmed, created_at FROM epoch_roots WHERE epoch = ?`, epoch)
	return scanRecord(row)
}

func (s *SQLiteStore) LatestRoot(ctx context.Context) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT epoch, root, proof, confirmed, created_at FROM epoch_roots ORDER BY epoch DESC LIMIT 1`)
	return scanRecord(row)
}

func (s *SQLiteStore) RootCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM epoch_roots`).Scan(&n)
	return n, err
}

func (s *SQLiteStore) RootsRange(ctx context.Context, from, to uint64) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT epoch, root, proof, confirmed, created_at FROM epoch_roots
		 WHERE epoch >= ? AND epoch <= ? ORDER BY epoch ASC`, from, to)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []*Record
	for rows.Next() {
		r, err := scanRecordRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row *sql.Row) (*Record, error) {
	r, err := scanRecordRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRootNotFound
	}
	return r, err
}

func scanRecordRow(row rowScanner) (*Record, error) {
	var (
		epoch     uint64
		root      string
		proofJSON sql.NullString
		confirmed bool
		createdAt string
	)
	if err := row.Scan(&epoch, &root, &proofJSON, &confirmed, &createdAt); err != nil {
		return nil, err
	}
	rec := &Record{Epoch: epoch, Root: root, Confirmed: confirmed, CreatedAt: parseTime(createdAt)}
	if proofJSON.Valid && proofJSON.String != "" {
		var p quorum.Proof
		if err := json.Unmarshal([]byte(proofJSON.String), &p); err != nil {
			return nil, fmt.Errorf("lockchain: decode proof for epoch %d: %w", epoch, err)
		}
		rec.Proof = &p
	}
	return rec, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func now() string { return time.Now().UTC().Format(time.RFC3339Nano) }

func parseTime(value string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
