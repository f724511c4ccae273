package database

import (
	"context"
	"fmt"
	"time"

	"forms-api/internal/config"
	"forms-api/internal/models"
	"forms-api/pkg/logging"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// SQLiteFallbackPath is used when DATABASE_URL is not set
const SQLiteFallbackPath = "forms-api.db"

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger: logger.New(logging.Logger(), logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
		TranslateError: true,
	}
}

// InitDatabase opens the primary database and migrates the schema
func InitDatabase(cfg *config.Config) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)

	if dsn := cfg.DatabaseURL; dsn == "" {
		// Fallback to SQLite for development
		logging.Infof("Database URL not set, using SQLite for development")
		db, err = OpenSQLite(SQLiteFallbackPath)
	} else {
		db, err = gorm.Open(postgres.Open(dsn), gormConfig())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logging.Infof("Database connected successfully")
	return db, nil
}

// OpenSQLite opens a SQLite database. SQLite allows a single writer, so the
// pool is capped at one connection.
func OpenSQLite(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// AutoMigrate performs database migration
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(models.AllModels()...)
}

// InitRedis connects to Redis. An empty URL returns a nil client; the
// features that depend on Redis are disabled in that case.
func InitRedis(cfg *config.Config) (*redis.Client, error) {
	redisURL := cfg.RedisURL
	if redisURL == "" {
		logging.Warnf("REDIS_URL is not set, idempotency keys and analytics are disabled")
		return nil, nil
	}

	logging.Infof("Connecting to Redis: %s", maskRedisURL(redisURL))

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.Infof("Redis connected successfully")
	return client, nil
}

// maskRedisURL masks sensitive information in Redis URL for logging
func maskRedisURL(url string) string {
	if len(url) > 20 {
		return url[:10] + "***" + url[len(url)-10:]
	}
	return "***"
}

// Close closes database connections
func Close(db *gorm.DB, rdb *redis.Client) {
	if db != nil {
		if sqlDB, err := db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				logging.Errorf("Failed to close database: %v", err)
			}
		}
	}

	if rdb != nil {
		if err := rdb.Close(); err != nil {
			logging.Errorf("Failed to close Redis: %v", err)
		}
	}
}
