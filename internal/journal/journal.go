package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS outcomes (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT     NOT NULL,
	host        TEXT     NOT NULL,
	kind        TEXT     NOT NULL,
	detail      TEXT,
	authority   TEXT,
	fingerprint TEXT,
	created_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outcomes_host ON outcomes(host);
CREATE INDEX IF NOT EXISTS idx_outcomes_run_id ON outcomes(run_id);
`

// Entry 一条主机处理结果记录
type Entry struct {
	ID          int64
	RunID       string
	Host        string
	Kind        string
	Detail      string
	Authority   string
	Fingerprint string
	CreatedAt   time.Time
}

// Journal 基于 SQLite 的处理结果记录
type Journal struct {
	db *sql.DB
}

// Open 打开（必要时创建）记录数据库
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("创建目录失败: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("打开记录数据库失败: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("连接记录数据库失败: %w", err)
	}

	// SQLite 只允许一个写入者
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化记录数据库失败: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close 关闭数据库
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record 写入一条记录
func (j *Journal) Record(ctx context.Context, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO outcomes (run_id, host, kind, detail, authority, fingerprint, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := j.db.ExecContext(ctx, query,
		entry.RunID,
		entry.Host,
		entry.Kind,
		nullString(entry.Detail),
		nullString(entry.Authority),
		nullString(entry.Fingerprint),
		entry.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("写入处理记录失败: %w", err)
	}
	return nil
}

// List 按时间倒序列出记录，host 为空时列出全部主机
func (j *Journal) List(ctx context.Context, host string, limit int) ([]Entry, error) {
	query := `
		SELECT id, run_id, host, kind, detail, authority, fingerprint, created_at
		FROM outcomes
		WHERE 1=1
	`
	args := []interface{}{}

	if host != "" {
		query += " AND host = ? COLLATE NOCASE"
		args = append(args, host)
	}

	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询处理记录失败: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var detail, authority, fingerprint sql.NullString
		if err := rows.Scan(
			&entry.ID,
			&entry.RunID,
			&entry.Host,
			&entry.Kind,
			&detail,
			&authority,
			&fingerprint,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("读取处理记录失败: %w", err)
		}
		entry.Detail = detail.String
		entry.Authority = authority.String
		entry.Fingerprint = fingerprint.String
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
