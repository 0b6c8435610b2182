package monitor

import (
	"time"

	"strategy-input/internal/aggregator"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventQualityReport   EventType = "quality_report"
	EventCollectionError EventType = "collection_error"
)

// Event 封装通用监控事件。
type Event struct {
	ID        int64       `json:"id"`
	Type      EventType   `json:"type"`
	InputID   string      `json:"input_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// QualityReportPayload 记录一次采集的质量报告与读取失败明细。
type QualityReportPayload struct {
	Report   aggregator.Report     `json:"report"`
	Cleaning aggregator.CleanStats `json:"cleaning"`
	Failures []string              `json:"failures,omitempty"`
}

// ErrorPayload 记录失败的采集周期。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
