package tokenstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"qbo-bridge/internal/common/errors"
)

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
	SSLMode  string
}

// ConnectionString builds a DSN for the pgx stdlib driver.
func (c *PostgresConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%s dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Database, c.User, c.Password, c.SSLMode)
}

// PostgresStore is the Store backend shared by the API process and the
// standalone refresher. Cross-process refresh races are resolved by the
// version condition in CompareAndSave.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to PostgreSQL and applies the schema.
func NewPostgresStore(config *PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("pgx", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

func (s *PostgresStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS integrations (
		id UUID PRIMARY KEY,
		provider TEXT NOT NULL,
		org_id TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (provider, org_id)
	);

	CREATE TABLE IF NOT EXISTS qbo_tokens (
		integration_id UUID PRIMARY KEY REFERENCES integrations(id),
		realm_id TEXT NOT NULL,
		access_token TEXT NOT NULL,
		refresh_token TEXT NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		version BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`

	_, err := s.db.Exec(schema)
	return err
}

func (s *PostgresStore) Load(ctx context.Context, integrationID string) (*TokenRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT integration_id, realm_id, access_token, refresh_token, expires_at, version, updated_at
		 FROM qbo_tokens WHERE integration_id = $1`, integrationID)

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

func (s *PostgresStore) CompareAndSave(ctx context.Context, integrationID string, expectedVersion int64, rec *TokenRecord) (*TokenRecord, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE qbo_tokens
		 SET access_token = $1, refresh_token = $2, realm_id = $3, expires_at = $4,
		     version = version + 1, updated_at = NOW()
		 WHERE integration_id = $5 AND version = $6`,
		rec.AccessToken, rec.RefreshToken, rec.RealmID, rec.ExpiresAt,
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

func (s *PostgresStore) SaveInitial(ctx context.Context, rec *TokenRecord) (*TokenRecord, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO qbo_tokens (integration_id, realm_id, access_token, refresh_token, expires_at, version, updated_at)
		 VALUES ($1, $2, $3, $4, $5, 0, NOW())
		 ON CONFLICT (integration_id) DO UPDATE SET
		   access_token = EXCLUDED.access_token,
		   refresh_token = EXCLUDED.refresh_token,
		   realm_id = EXCLUDED.realm_id,
		   expires_at = EXCLUDED.expires_at,
		   version = qbo_tokens.version + 1,
		   updated_at = NOW()`,
		rec.IntegrationID, rec.RealmID, rec.AccessToken, rec.RefreshToken, rec.ExpiresAt)
	if err != nil {
		return nil, errors.InternalError("failed to save initial token record", err)
	}
	return s.Load(ctx, rec.IntegrationID)
}

func (s *PostgresStore) EnsureIntegration(ctx context.Context, provider, orgID string) (string, error) {
	// Deterministic id on insert, stable id on conflict. RETURNING covers
	// both paths because the conflict arm still updates the row.
	var id string
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO integrations (id, provider, org_id)
		 VALUES (gen_random_uuid(), $1, $2)
		 ON CONFLICT (provider, org_id) DO UPDATE SET updated_at = NOW()
		 RETURNING id`,
		provider, orgID).Scan(&id)
	if err != nil {
		return "", errors.InternalError("failed to ensure integration", err)
	}
	return id, nil
}

func (s *PostgresStore) ListConnected(ctx context.Context) ([]string, error) {
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

func (s *PostgresStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
