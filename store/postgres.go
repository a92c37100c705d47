package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaymesh/navajo/fserrors"
)

// PostgresUserStore is a UserStore backed by a single `navajo_user` table, indexed
// independently on address, device_id, and session — mirroring the
// relational lookup shape the original relay's directory used, with a
// Postgres upsert in place of the original's insert-then-fallback-to-update
// pair.
type PostgresUserStore struct {
	pool *pgxpool.Pool
}

// NewPostgresUserStore wraps an already-connected pool. The caller owns the
// pool's lifecycle (Close it on shutdown).
func NewPostgresUserStore(pool *pgxpool.Pool) *PostgresUserStore {
	return &PostgresUserStore{pool: pool}
}

// EnsureSchema creates the user table and its lookup indexes if they do not
// already exist. Intended for local/dev bring-up; production deployments
// are expected to manage schema via migration tooling instead.
func (s *PostgresUserStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS navajo_user (
			address   TEXT PRIMARY KEY,
			device_id TEXT NOT NULL,
			session   TEXT NOT NULL,
			secret    TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS navajo_user_device_id_idx ON navajo_user (device_id);
		CREATE INDEX IF NOT EXISTS navajo_user_session_idx ON navajo_user (session);
	`)
	if err != nil {
		return fserrors.Wrap(fserrors.PathStore, fserrors.StageStore, fserrors.CodeDb, err)
	}
	return nil
}

func (s *PostgresUserStore) scanRow(row pgx.Row) (*UserRecord, error) {
	var rec UserRecord
	err := row.Scan(&rec.Address, &rec.DeviceID, &rec.Session, &rec.Secret)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fserrors.Wrap(fserrors.PathStore, fserrors.StageStore, fserrors.CodeDb, err)
	}
	return &rec, nil
}

// FindByAddress implements UserStore.
func (s *PostgresUserStore) FindByAddress(ctx context.Context, address string) (*UserRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT address, device_id, session, secret FROM navajo_user WHERE address = $1`, address)
	return s.scanRow(row)
}

// FindByDeviceID implements UserStore.
func (s *PostgresUserStore) FindByDeviceID(ctx context.Context, deviceID string) (*UserRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT address, device_id, session, secret FROM navajo_user WHERE device_id = $1`, deviceID)
	return s.scanRow(row)
}

// FindBySession implements UserStore.
func (s *PostgresUserStore) FindBySession(ctx context.Context, session string) (*UserRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT address, device_id, session, secret FROM navajo_user WHERE session = $1`, session)
	return s.scanRow(row)
}

// InsertOrUpdate implements UserStore, upserting by address as the
// directory's stable identity column.
func (s *PostgresUserStore) InsertOrUpdate(ctx context.Context, rec UserRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO navajo_user (address, device_id, session, secret)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (address) DO UPDATE
		SET device_id = EXCLUDED.device_id, session = EXCLUDED.session, secret = EXCLUDED.secret
	`, rec.Address, rec.DeviceID, rec.Session, rec.Secret)
	if err != nil {
		return fserrors.Wrap(fserrors.PathStore, fserrors.StageStore, fserrors.CodeDb, err)
	}
	return nil
}
