package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a new database connection
func NewDB(cfg Config) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log.Printf("Successfully connected to PostgreSQL database: %s", cfg.Database)

	return &DB{Pool: pool}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		log.Println("Database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	log.Println("Running database migrations...")

	migrations := []string{
		// Closed trades feed the learning loop
		`CREATE TABLE IF NOT EXISTS trades (
			id SERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			pnl DECIMAL(20, 8) NOT NULL,
			entry_time TIMESTAMP NOT NULL,
			exit_time TIMESTAMP NOT NULL,
			exit_reason VARCHAR(30),
			hour_of_day INTEGER,
			day_of_week INTEGER,
			btc_trend VARCHAR(10),
			pattern_id VARCHAR(64),
			missed_profit DECIMAL(20, 8) DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_exit_time ON trades(exit_time)`,

		// Per-instrument running scores
		`CREATE TABLE IF NOT EXISTS instrument_scores (
			symbol VARCHAR(20) PRIMARY KEY,
			total_trades INTEGER NOT NULL DEFAULT 0,
			wins INTEGER NOT NULL DEFAULT 0,
			losses INTEGER NOT NULL DEFAULT 0,
			total_pnl DECIMAL(20, 8) NOT NULL DEFAULT 0,
			avg_pnl DECIMAL(20, 8) NOT NULL DEFAULT 0,
			win_rate DECIMAL(10, 6) NOT NULL DEFAULT 0,
			avg_win DECIMAL(20, 8) NOT NULL DEFAULT 0,
			avg_loss DECIMAL(20, 8) NOT NULL DEFAULT 0,
			status VARCHAR(20) NOT NULL DEFAULT 'UNKNOWN',
			blacklisted BOOLEAN NOT NULL DEFAULT FALSE,
			blacklist_reason TEXT,
			trend VARCHAR(20) NOT NULL DEFAULT 'stable',
			last_updated TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_instrument_scores_status ON instrument_scores(status)`,

		// Reusable trading patterns
		`CREATE TABLE IF NOT EXISTS trading_patterns (
			id VARCHAR(64) PRIMARY KEY,
			description TEXT NOT NULL,
			entry_conditions JSONB,
			exit_conditions JSONB,
			times_used INTEGER NOT NULL DEFAULT 0,
			wins INTEGER NOT NULL DEFAULT 0,
			losses INTEGER NOT NULL DEFAULT 0,
			total_pnl DECIMAL(20, 8) NOT NULL DEFAULT 0,
			confidence DECIMAL(10, 6) NOT NULL DEFAULT 0.5,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			last_used TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trading_patterns_active ON trading_patterns(active)`,

		// Conditional regime rules
		`CREATE TABLE IF NOT EXISTS regime_rules (
			id VARCHAR(64) PRIMARY KEY,
			description TEXT NOT NULL,
			condition JSONB,
			action VARCHAR(40) NOT NULL,
			created_by VARCHAR(20) NOT NULL DEFAULT 'reflection',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			times_triggered INTEGER NOT NULL DEFAULT 0,
			pnl_saved DECIMAL(20, 8) NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_regime_rules_active ON regime_rules(active)`,

		// Applied adaptations and their measured effectiveness
		`CREATE TABLE IF NOT EXISTS adaptation_log (
			id VARCHAR(64) PRIMARY KEY,
			timestamp TIMESTAMP NOT NULL,
			insight_type VARCHAR(40) NOT NULL,
			insight_title TEXT,
			action VARCHAR(40) NOT NULL,
			target VARCHAR(100) NOT NULL,
			description TEXT,
			pre_metrics JSONB,
			post_metrics JSONB,
			confidence DECIMAL(10, 6) NOT NULL DEFAULT 0,
			evidence JSONB,
			effectiveness_rating VARCHAR(20),
			measured_at TIMESTAMP,
			rolled_back BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_adaptation_log_timestamp ON adaptation_log(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_adaptation_log_target ON adaptation_log(action, target)`,

		// Audit trail of learning activity
		`CREATE TABLE IF NOT EXISTS activity_log (
			id SERIAL PRIMARY KEY,
			timestamp TIMESTAMP NOT NULL,
			category VARCHAR(40) NOT NULL,
			message TEXT NOT NULL,
			details JSONB,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_log_timestamp ON activity_log(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_log_category ON activity_log(category)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	log.Println("Database migrations completed successfully")
	return nil
}
