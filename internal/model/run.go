package model

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Status 运行状态
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusPartial    Status = "partial" // 部分消息未送达
	StatusFailed     Status = "failed"
)

// Trigger 运行来源
type Trigger string

const (
	TriggerCron    Trigger = "cron"
	TriggerCatchUp Trigger = "catchup"
	TriggerManual  Trigger = "manual"
)

// Run 一次完整的流水线运行
type Run struct {
	ID              int
	Trigger         Trigger
	Status          Status
	StartedAt       time.Time
	FinishedAt      time.Time // 未结束时为零值
	InputCount      int
	KeptCount       int
	FilteredCount   int
	ClassifiedCount int
	ChunkCount      int
	Delivered       []int
	Failed          []int
	Signals         string
	ErrorMessage    string
}

// RunStats 运行结束时写入的统计
type RunStats struct {
	InputCount      int
	KeptCount       int
	FilteredCount   int
	ClassifiedCount int
	ChunkCount      int
	Delivered       []int
	Failed          []int
	Signals         string
}

type RunModel struct {
	db  *sql.DB
	now func() time.Time
}

func NewRunModel(db *sql.DB) *RunModel {
	return &RunModel{db: db, now: time.Now}
}

const runColumns = `id, source, status, started_at, finished_at, input_count, kept_count,
	filtered_count, classified_count, chunk_count, delivered, failed, signals, error_message`

// Create 创建运行记录，状态为 in_progress
func (m *RunModel) Create(ctx context.Context, trigger Trigger, startedAt time.Time) (*Run, error) {
	res, err := m.db.ExecContext(ctx,
		`INSERT INTO runs (source, status, started_at) VALUES (?, ?, ?)`,
		string(trigger), string(StatusInProgress), startedAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("创建运行记录失败: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return m.Get(ctx, int(id))
}

// Get 按 ID 查询
func (m *RunModel) Get(ctx context.Context, id int) (*Run, error) {
	row := m.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

// MarkCompleted 标记运行完成
func (m *RunModel) MarkCompleted(ctx context.Context, id int, stats RunStats) error {
	return m.finish(ctx, id, StatusCompleted, stats, "")
}

// MarkPartial 标记部分送达
func (m *RunModel) MarkPartial(ctx context.Context, id int, stats RunStats, errorMsg string) error {
	return m.finish(ctx, id, StatusPartial, stats, errorMsg)
}

// MarkFailed 标记运行失败
func (m *RunModel) MarkFailed(ctx context.Context, id int, errorMsg string) error {
	res, err := m.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ?, error_message = ? WHERE id = ?`,
		string(StatusFailed), m.now().Unix(), errorMsg, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (m *RunModel) finish(ctx context.Context, id int, status Status, stats RunStats, errorMsg string) error {
	delivered, err := encodeIndices(stats.Delivered)
	if err != nil {
		return err
	}
	failed, err := encodeIndices(stats.Failed)
	if err != nil {
		return err
	}

	res, err := m.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, finished_at = ?, input_count = ?, kept_count = ?, filtered_count = ?,
			classified_count = ?, chunk_count = ?, delivered = ?, failed = ?, signals = ?, error_message = ?
		WHERE id = ?`,
		string(status), m.now().Unix(), stats.InputCount, stats.KeptCount, stats.FilteredCount,
		stats.ClassifiedCount, stats.ChunkCount, delivered, failed, stats.Signals, errorMsg, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// GetIncompleteRuns 查询所有未结束的运行（进程在运行中退出）
func (m *RunModel) GetIncompleteRuns(ctx context.Context) ([]*Run, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE status = ? ORDER BY started_at, id`, string(StatusInProgress))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetLatestSince 查询 since 之后开始的、未失败的最近一次运行
func (m *RunModel) GetLatestSince(ctx context.Context, since time.Time) (*Run, error) {
	row := m.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE started_at >= ? AND status != ? ORDER BY started_at DESC, id DESC LIMIT 1`,
		since.Unix(), string(StatusFailed))
	return scanRun(row)
}

// DeleteBefore 删除 cutoff 之前开始的运行记录
func (m *RunModel) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := m.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		run        Run
		trigger    string
		status     string
		startedAt  int64
		finishedAt sql.NullInt64
		delivered  string
		failed     string
	)
	err := row.Scan(&run.ID, &trigger, &status, &startedAt, &finishedAt, &run.InputCount, &run.KeptCount,
		&run.FilteredCount, &run.ClassifiedCount, &run.ChunkCount, &delivered, &failed, &run.Signals, &run.ErrorMessage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	run.Trigger = Trigger(trigger)
	run.Status = Status(status)
	run.StartedAt = time.Unix(startedAt, 0).UTC()
	if finishedAt.Valid {
		run.FinishedAt = time.Unix(finishedAt.Int64, 0).UTC()
	}
	if err := json.Unmarshal([]byte(delivered), &run.Delivered); err != nil {
		return nil, fmt.Errorf("解析 delivered 失败: %w", err)
	}
	if err := json.Unmarshal([]byte(failed), &run.Failed); err != nil {
		return nil, fmt.Errorf("解析 failed 失败: %w", err)
	}
	return &run, nil
}

func encodeIndices(indices []int) (string, error) {
	if indices == nil {
		indices = []int{}
	}
	data, err := json.Marshal(indices)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
