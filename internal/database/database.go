package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/cinerank/internal/config"
)

const (
	neo4jPoolSize       = 10
	neo4jAcquireTimeout = 30 * time.Second
	closeTimeout        = 10 * time.Second
)

// Database holds the connections to every store the engine reads or writes:
// PostgreSQL for interactions and the catalog mirror, Neo4j for similarity
// records and Redis for the recommendation cache and job progress.
type Database struct {
	PG    *pgxpool.Pool
	Neo4j neo4j.DriverWithContext
	Redis *redis.Client

	closers []storeCloser
	logger  *logrus.Logger
}

type storeCloser struct {
	name  string
	close func(ctx context.Context) error
}

// New connects to PostgreSQL, Neo4j and Redis in that order, pinging each one.
// A failure closes whatever was already open.
func New(cfg *config.Config, logger *logrus.Logger) (*Database, error) {
	db := &Database{logger: logger}

	timeout := cfg.Database.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	steps := []struct {
		name    string
		connect func(ctx context.Context, cfg *config.Config) error
	}{
		{"PostgreSQL", db.connectPostgreSQL},
		{"Neo4j", db.connectNeo4j},
		{"Redis", db.connectRedis},
	}
	for _, step := range steps {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := step.connect(ctx, cfg)
		cancel()
		if err != nil {
			if closeErr := db.Close(); closeErr != nil {
				logger.WithError(closeErr).Warn("Failed to release connections after a startup error")
			}
			return nil, fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
		logger.WithField("store", step.name).Info("Connection established")
	}

	return db, nil
}

func (db *Database) connectPostgreSQL(ctx context.Context, cfg *config.Config) error {
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to parse PostgreSQL URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.Database.MaxConnections)
	poolConfig.MaxConnIdleTime = cfg.Database.MaxIdleTime
	poolConfig.MaxConnLifetime = cfg.Database.MaxLifetime
	poolConfig.ConnConfig.ConnectTimeout = cfg.Database.ConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("ping failed: %w", err)
	}

	db.PG = pool
	db.track("PostgreSQL", func(context.Context) error {
		pool.Close()
		return nil
	})
	return nil
}

func (db *Database) connectNeo4j(ctx context.Context, cfg *config.Config) error {
	driver, err := neo4j.NewDriverWithContext(
		cfg.Neo4j.URL,
		neo4j.BasicAuth(cfg.Neo4j.Username, cfg.Neo4j.Password, ""),
		func(c *neo4j.Config) {
			c.MaxConnectionPoolSize = neo4jPoolSize
			c.ConnectionAcquisitionTimeout = neo4jAcquireTimeout
		},
	)
	if err != nil {
		return fmt.Errorf("failed to create driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return fmt.Errorf("connectivity check failed: %w", err)
	}

	db.Neo4j = driver
	db.track("Neo4j", driver.Close)
	return nil
}

func (db *Database) connectRedis(ctx context.Context, cfg *config.Config) error {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.URL,
		DB:           cfg.Redis.DB,
		MaxRetries:   cfg.Redis.MaxRetries,
		PoolSize:     cfg.Redis.PoolSize,
		ReadTimeout:  cfg.Redis.Timeout,
		WriteTimeout: cfg.Redis.Timeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("ping failed: %w", err)
	}

	db.Redis = client
	db.track("Redis", func(context.Context) error { return client.Close() })
	return nil
}

func (db *Database) track(name string, closeFn func(ctx context.Context) error) {
	db.closers = append(db.closers, storeCloser{name: name, close: closeFn})
}

// Close releases the stores in reverse connection order. It is safe to call
// more than once.
func (db *Database) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	var errs []error
	for i := len(db.closers) - 1; i >= 0; i-- {
		c := db.closers[i]
		if err := c.close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s: %w", c.name, err))
			continue
		}
		db.logger.WithField("store", c.name).Info("Connection closed")
	}
	db.closers = nil
	return errors.Join(errs...)
}
