package tokenstore

import (
	"fmt"

	"qbo-bridge/internal/config"
)

// NewFromConfig builds the Store backend selected by DATABASE_TYPE.
func NewFromConfig(cfg *config.Config) (Store, error) {
	switch cfg.DatabaseType {
	case "sqlite":
		return NewSQLiteStore(cfg.DatabasePath)
	case "postgres", "postgresql":
		return NewPostgresStore(&PostgresConfig{
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			Database: cfg.PostgresDB,
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPassword,
			SSLMode:  cfg.PostgresSSLMode,
		})
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.DatabaseType)
	}
}
