package database

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
)

type PgChatRepository struct {
	conn         *sql.DB
	queryTimeout time.Duration
}

func NewPgChatRepository(dsn string, queryTimeout time.Duration) (*PgChatRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgChatRepository{conn: db, queryTimeout: queryTimeout}, nil
}

// opCtx bounds a single repository operation so a wedged connection
// cannot hold a request forever.
func (db *PgChatRepository) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), db.queryTimeout)
}

func (db *PgChatRepository) Ping() error {
	ctx, cancel := db.opCtx()
	defer cancel()

	return db.conn.PingContext(ctx)
}

func (db *PgChatRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
