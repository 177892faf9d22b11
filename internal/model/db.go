package model

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// IsNotFound 判断是否为记录不存在
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	source           TEXT    NOT NULL,
	status           TEXT    NOT NULL,
	started_at       INTEGER NOT NULL,
	finished_at      INTEGER,
	input_count      INTEGER NOT NULL DEFAULT 0,
	kept_count       INTEGER NOT NULL DEFAULT 0,
	filtered_count   INTEGER NOT NULL DEFAULT 0,
	classified_count INTEGER NOT NULL DEFAULT 0,
	chunk_count      INTEGER NOT NULL DEFAULT 0,
	delivered        TEXT    NOT NULL DEFAULT '[]',
	failed           TEXT    NOT NULL DEFAULT '[]',
	signals          TEXT    NOT NULL DEFAULT '',
	error_message    TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS runs_status ON runs (status);
CREATE INDEX IF NOT EXISTS runs_started_at ON runs (started_at);
`

// Open 打开 SQLite 数据库并创建表结构
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	// SQLite 单写者
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("创建数据库Schema失败: %w", err)
	}
	return db, nil
}
