package tokenstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"qbo-bridge/internal/common/errors"
)

// SQLiteStore is the file-backed Store used for local development and
// single-node deployments.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path and
// applies the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS integrations (
		id TEXT PRIMARY KEY,
		provider TEXT NOT NULL,
		org_id TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (provider, org_id)
	);

	CREATE TABLE IF NOT EXISTS qbo_tokens (
		integration_id TEXT PRIMARY KEY REFERENCES integrations(id),
		realm_id TEXT NOT NULL,
		access_token TEXT NOT NULL,
		refresh_token TEXT NOT NULL,
		expires_at DATETIME NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Load(ctx context.Context, integrationID string) (*TokenRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT integration_id, realm_id, access_token, refresh_token, expires_at, version, updated_at
		 FROM qbo_tokens WHERE integration_id = ?`, integrationID)

	rec := &TokenRecord{}
	err := row.Scan(&rec.IntegrationID, &rec.RealmID, &rec.AccessToken, &rec.RefreshToken,
		&rec.ExpiresAt, &rec.Version, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.InternalError("failed to load token record", err)
	}
	return rec, nil
}

func (s *SQLiteStore) CompareAndSave(ctx context.Context, integrationID string, expectedVersion int64, rec *TokenRecord) (*TokenRecord, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE qbo_tokens
		 SET access_token = ?, refresh_token = ?, realm_id = ?, expires_at = ?,
		     version = version + 1, updated_at = ?
		 WHERE integration_id = ? AND version = ?`,
		rec.AccessToken, rec.RefreshToken, rec.RealmID, rec.ExpiresAt, time.Now(),
		integrationID, expectedVersion)
	if err != nil {
		return nil, errors.InternalError("failed to save token record", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, errors.InternalError("failed to read affected rows", err)
	}

	if affected == 0 {
		current, loadErr := s.Load(ctx, integrationID)
		if loadErr != nil {
			return nil, loadErr
		}
		if current == nil {
			return nil, errors.NoTokenError(integrationID)
		}
		return current, errors.ConflictError(integrationID, expectedVersion)
	}

	return s.Load(ctx, integrationID)
}

func (s *SQLiteStore) SaveInitial(ctx context.Context, rec *TokenRecord) (*TokenRecord, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO qbo_tokens (integration_id, realm_id, access_token, refresh_token, expires_at, version, updated_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?)
		 ON CONFLICT (integration_id) DO UPDATE SET
		   access_token = excluded.access_token,
		   refresh_token = excluded.refresh_token,
		   realm_id = excluded.realm_id,
		   expires_at = excluded.expires_at,
		   version = qbo_tokens.version + 1,
		   updated_at = excluded.updated_at`,
		rec.IntegrationID, rec.RealmID, rec.AccessToken, rec.RefreshToken, rec.ExpiresAt, time.Now())
	if err != nil {
		return nil, errors.InternalError("failed to save initial token record", err)
	}
	return s.Load(ctx, rec.IntegrationID)
}

func (s *SQLiteStore) EnsureIntegration(ctx context.Context, provider, orgID string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM integrations WHERE provider = ? AND org_id = ?`, provider, orgID).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", errors.InternalError("failed to look up integration", err)
	}

	id = uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO integrations (id, provider, org_id) VALUES (?, ?, ?)
		 ON CONFLICT (provider, org_id) DO UPDATE SET updated_at = CURRENT_TIMESTAMP`,
		id, provider, orgID)
	if err != nil {
		return "", errors.InternalError("failed to create integration", err)
	}

	// Another writer may have inserted concurrently; read back the winner.
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM integrations WHERE provider = ? AND org_id = ?`, provider, orgID).Scan(&id)
	if err != nil {
		return "", errors.InternalError("failed to read integration id", err)
	}
	return id, nil
}

func (s *SQLiteStore) ListConnected(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT integration_id FROM qbo_tokens`)
	if err != nil {
		return nil, errors.InternalError("failed to list connected integrations", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.InternalError("failed to scan integration id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.InternalError("failed to list connected integrations", err)
	}
	return ids, nil
}

func (s *SQLiteStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
