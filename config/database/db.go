package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"satunaskah/config"
	"satunaskah/pkg/logger"

	_ "github.com/lib/pq"
)

const retryDelay = 2 * time.Second

// Connect opens the postgres pool and pings it, retrying a few times for DNS/network blips.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database connection: %w", err)
	}

	for i := 0; i < cfg.Retries; i++ {
		if err = db.PingContext(ctx); err == nil {
			logger.Sugar.Info("Successfully connected to the database")
			return db, nil
		}
		logger.Sugar.Infof("Database connection failed, retrying in %s... (%v)", retryDelay, err)
		select {
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}
	db.Close()
	return nil, fmt.Errorf("could not connect to database after %d retries: %w", cfg.Retries, err)
}
