// Package monitor 将质量报告与采集异常持久化到 SQLite，供 HTTP 接口查询。
package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"strategy-input/internal/aggregator"
	"strategy-input/internal/fetch"
	"strategy-input/internal/store"
)

// DefaultListLimit 为查询事件的默认条数。
const DefaultListLimit = 100

// timeLayout 为定宽 UTC 格式，保证按字符串比较即按时间比较。
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS monitor_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	input_id TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_monitor_events_type ON monitor_events(event_type);
CREATE INDEX IF NOT EXISTS idx_monitor_events_input ON monitor_events(input_id);
`

// Service 负责持久化监控事件。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewService 初始化监控服务，创建所需表结构。
func NewService(ctx context.Context, st *store.Store, logger *zap.Logger) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := st.Migrate(ctx, schema); err != nil {
		return nil, fmt.Errorf("monitor: 初始化表失败: %w", err)
	}

	return &Service{
		db:     st.DB(),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Record 写入单个事件，返回事件 ID。
func (s *Service) Record(ctx context.Context, event Event) (int64, error) {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return 0, fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO monitor_events (event_type, input_id, payload, created_at) VALUES (?, ?, ?, ?)`,
		string(event.Type), event.InputID, string(payload), event.Timestamp.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("monitor: 写入事件失败: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("monitor: 读取事件ID失败: %w", err)
	}
	return id, nil
}

// RecordReport 记录质量报告。写入失败只记录日志。
func (s *Service) RecordReport(ctx context.Context, report aggregator.Report, cleaning aggregator.CleanStats, failures fetch.Failures) {
	payload := QualityReportPayload{Report: report, Cleaning: cleaning}
	for _, f := range failures {
		payload.Failures = append(payload.Failures, f.Error())
	}

	if _, err := s.Record(ctx, Event{
		Type:    EventQualityReport,
		InputID: report.InputID,
		Payload: payload,
	}); err != nil {
		s.logger.Warn("记录质量报告失败", zap.String("input_id", report.InputID), zap.Error(err))
	}
}

// RecordError 记录失败的采集周期。
func (s *Service) RecordError(ctx context.Context, msg string, err error, ctxMap map[string]interface{}) {
	payload := ErrorPayload{
		Message: msg,
		Error:   err.Error(),
		Context: ctxMap,
	}
	if _, recErr := s.Record(ctx, Event{
		Type:    EventCollectionError,
		Payload: payload,
	}); recErr != nil {
		s.logger.Warn("记录异常事件失败", zap.Error(recErr))
	}
}

// ListEvents 按类型检索最近事件，eventType 为空时返回全部类型。
func (s *Service) ListEvents(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `SELECT id, event_type, input_id, payload, created_at FROM monitor_events`
	args := make([]interface{}, 0, 2)
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			event   Event
			typ     string
			payload string
			created string
		)
		if scanErr := rows.Scan(&event.ID, &typ, &event.InputID, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(timeLayout, created)
		if parseErr != nil {
			s.logger.Warn("事件时间格式异常", zap.Int64("id", event.ID), zap.String("created_at", created))
		}

		event.Type = EventType(typ)
		event.Timestamp = ts
		event.Payload = json.RawMessage(payload)
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
	}

	return events, nil
}

// Prune 删除早于 before 的事件，返回删除条数。
func (s *Service) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM monitor_events WHERE created_at < ?`,
		before.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("monitor: 清理事件失败: %w", err)
	}
	return res.RowsAffected()
}
