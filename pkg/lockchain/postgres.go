package lockchain

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Nerval-Labs/reflex/pkg/quorum"

	_ "github.com/lib/pq"
)

// PostgresStore persists epoch roots in PostgreSQL for multi-node
// deployments where peers share a durable store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects with the given DSN and migrates the schema.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("lockchain: open postgres: %w", err)
	}
	return NewPostgresStoreFromDB(db)
}

// NewPostgresStoreFromDB wraps an existing connection pool.
func NewPostgresStoreFromDB(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS epoch_roots (
		epoch BIGINT PRIMARY KEY,
		root TEXT NOT NULL,
		proof JSONB,
		confirmed BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *PostgresStore) PersistRoot(ctx context.Context, epoch uint64, root string, proof *quorum.Proof) error {
	proofJSON, err := json.Marshal(proof)
	if err != nil {
		return fmt.Errorf("lockchain: encode proof: %w", err)
	}
	return s.persist(ctx, epoch, root, string(proofJSON), true)
}

func (s *PostgresStore) PersistPending(ctx context.Context, epoch uint64, root string) error {
	return s.persist(ctx, epoch, root, "", false)
}

func (s *PostgresStore) persist(ctx context.Context, epoch uint64, root, proofJSON string, confirmed bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("lockchain: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existingRoot string
	var existingConfirmed bool
	err = tx.QueryRowContext(ctx,
		`SELECT root, confirmed FROM epoch_roots WHERE epoch = $1 FOR UPDATE`, epoch,
	).Scan(&existingRoot, &existingConfirmed)
	switch {
	case err == nil:
		if existingConfirmed && existingRoot != root {
			return fmt.Errorf("%w: epoch %d", ErrRootConflict, epoch)
		}
		if existingConfirmed {
			return tx.Commit()
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE epoch_roots SET root = $1, proof = $2, confirmed = $3, created_at = NOW() WHERE epoch = $4`,
			root, nullable(proofJSON), confirmed, epoch)
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx,
			`INSERT INTO epoch_roots (epoch, root, proof, confirmed) VALUES ($1, $2, $3, $4)`,
			epoch, root, nullable(proofJSON), confirmed)
	default:
		return fmt.Errorf("lockchain: lookup epoch %d: %w", epoch, err)
	}
	if err != nil {
		return fmt.Errorf("lockchain: persist epoch %d: %w", epoch, err)
	}
	return tx.Commit()
}

func (s *PostgresStore) GetRoot(ctx context.Context, epoch uint64) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT epoch, root, proof, confirmed, created_at FROM epoch_roots WHERE epoch = $1`, epoch)
	return scanPGRecord(row)
}

func (s *PostgresStore) LatestRoot(ctx context.Context) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT epoch, root, proof, confirmed, created_at FROM epoch_roots ORDER BY epoch DESC LIMIT 1`)
	return scanPGRecord(row)
}

func (s *PostgresStore) RootCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM epoch_roots`).Scan(&n)
	return n, err
}

func (s *PostgresStore) RootsRange(ctx context.Context, from, to uint64) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT epoch, root, proof, confirmed, created_at FROM epoch_roots
		 WHERE epoch >= $1 AND epoch <= $2 ORDER BY epoch ASC`, from, to)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []*Record
	for rows.Next() {
		r, err := scanPGRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func scanPGRecord(row *sql.Row) (*Record, error) {
	r, err := scanPGRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRootNotFound
	}
	return r, err
}

// Postgres returns created_at as time.Time, unlike the text affinity of
// SQLite, so the scan differs.
func scanPGRow(row rowScanner) (*Record, error) {
	var (
		rec       Record
		proofJSON sql.NullString
	)
	if err := row.Scan(&rec.Epoch, &rec.Root, &proofJSON, &rec.Confirmed, &rec.CreatedAt); err != nil {
		return nil, err
	}
	if proofJSON.Valid && proofJSON.String != "" {
		var p quorum.Proof
		if err := json.Unmarshal([]byte(proofJSON.String), &p); err != nil {
			return nil, fmt.Errorf("lockchain: decode proof for epoch %d: %w", rec.Epoch, err)
		}
		rec.Proof = &p
	}
	return &rec, nil
}
