package database

import (
	"context"
	"fmt"
	"receipt-rag-go/pkg/log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PG 是 pgvector 向量存储使用的 PostgreSQL 连接池。
var PG *pgxpool.Pool

// InitPostgres 初始化 PostgreSQL 连接池
func InitPostgres(dsn string) error {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("failed to parse connection string: %w", err)
	}

	config.MaxConns = 10
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("failed to ping postgres: %w", err)
	}

	PG = pool
	log.Info("PostgreSQL connected successfully")
	return nil
}
