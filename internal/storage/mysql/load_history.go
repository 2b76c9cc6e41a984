package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// 加载结果。
const (
	OutcomeLoaded = "loaded"
	OutcomeFailed = "failed"
)

// LoadRecord 表示一次模块加载尝试的落库结构。
type LoadRecord struct {
	ID           int64  `json:"id"`
	LoadID       string `json:"load_id,omitempty"`
	Module       string `json:"module"`
	Role         string `json:"role"`
	Path         string `json:"path"`
	Outcome      string `json:"outcome"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	DurationMS   int64  `json:"duration_ms"`
	CreatedAt    int64  `json:"created_at"`
}

// LoadHistory 抽象加载历史的持久化接口。
type LoadHistory interface {
	Save(ctx context.Context, record *LoadRecord) error
	ListLatest(ctx context.Context, limit int) ([]LoadRecord, error)
	ListByModule(ctx context.Context, module string, limit int) ([]LoadRecord, error)
}

const memoryHistoryCap = 512

// MemoryLoadHistory 在进程内保留最近的加载记录，适合未配置数据库的部署。
type MemoryLoadHistory struct {
	mu      sync.RWMutex
	nextID  int64
	records []LoadRecord
}

// NewMemoryLoadHistory 创建内存加载历史。
func NewMemoryLoadHistory() *MemoryLoadHistory {
	return &MemoryLoadHistory{}
}

// Save 记录一次加载，最新的记录排在最前。
func (m *MemoryLoadHistory) Save(_ context.Context, record *LoadRecord) error {
	if record == nil {
		return errors.New("加载记录不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	record.ID = m.nextID
	m.records = append([]LoadRecord{*record}, m.records...)
	if len(m.records) > memoryHistoryCap {
		m.records = m.records[:memoryHistoryCap]
	}
	return nil
}

// ListLatest 返回最近 limit 条记录。
func (m *MemoryLoadHistory) ListLatest(_ context.Context, limit int) ([]LoadRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return filterRecords(m.records, "", limit), nil
}

// ListByModule 返回指定模块最近 limit 条记录。
func (m *MemoryLoadHistory) ListByModule(_ context.Context, module string, limit int) ([]LoadRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return filterRecords(m.records, module, limit), nil
}

func filterRecords(records []LoadRecord, module string, limit int) []LoadRecord {
	if limit <= 0 || limit > len(records) {
		limit = len(records)
	}
	out := make([]LoadRecord, 0, limit)
	for _, rec := range records {
		if len(out) == limit {
			break
		}
		if module != "" && rec.Module != module {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// SQLLoadHistory 将加载历史写入 MySQL 的 module_loads 表。
type SQLLoadHistory struct {
	db *sql.DB
}

// NewSQLLoadHistory 包装已打开的连接并执行迁移。
func NewSQLLoadHistory(ctx context.Context, db *sql.DB) (*SQLLoadHistory, error) {
	if db == nil {
		return nil, errors.New("数据库连接不能为空")
	}
	repo := &SQLLoadHistory{db: db}
	if err := repo.runMigrations(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

const insertLoadSQL = `INSERT INTO module_loads (load_id, module, role, path, outcome, error_code, error_message, duration_ms, created_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

const selectLoadColumns = `SELECT id, load_id, module, role, path, outcome, error_code, error_message, duration_ms, created_at
    FROM module_loads`

// Save 写入一条记录并回填自增主键。
func (s *SQLLoadHistory) Save(ctx context.Context, record *LoadRecord) error {
	if record == nil {
		return errors.New("加载记录不能为空")
	}
	res, err := s.db.ExecContext(ctx, insertLoadSQL,
		record.LoadID,
		record.Module,
		record.Role,
		record.Path,
		record.Outcome,
		record.ErrorCode,
		record.ErrorMessage,
		record.DurationMS,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("写入加载记录失败: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("读取加载记录主键失败: %w", err)
	}
	record.ID = id
	return nil
}

// ListLatest 按时间倒序返回最近 limit 条记录。
func (s *SQLLoadHistory) ListLatest(ctx context.Context, limit int) ([]LoadRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectLoadColumns+` ORDER BY created_at DESC, id DESC LIMIT ?`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("查询加载记录失败: %w", err)
	}
	return scanRecords(rows)
}

// ListByModule 按时间倒序返回指定模块的记录。
func (s *SQLLoadHistory) ListByModule(ctx context.Context, module string, limit int) ([]LoadRecord, error) {
	if strings.TrimSpace(module) == "" {
		return nil, errors.New("模块名不能为空")
	}
	rows, err := s.db.QueryContext(ctx, selectLoadColumns+` WHERE module = ? ORDER BY created_at DESC, id DESC LIMIT ?`, module, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("查询模块 %s 的加载记录失败: %w", module, err)
	}
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]LoadRecord, error) {
	defer rows.Close()

	var records []LoadRecord
	for rows.Next() {
		var (
			rec     LoadRecord
			message sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.LoadID, &rec.Module, &rec.Role, &rec.Path, &rec.Outcome,
			&rec.ErrorCode, &message, &rec.DurationMS, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("解析加载记录失败: %w", err)
		}
		rec.ErrorMessage = message.String
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历加载记录失败: %w", err)
	}
	return records, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > memoryHistoryCap {
		return 50
	}
	return limit
}
