package store

import (
	"encoding/json"
	"time"

	"github.com/BaSui01/taskengine/loopguard"
	"github.com/BaSui01/taskengine/task"
	"github.com/BaSui01/taskengine/types"
)

// taskRecord tasks 表的行结构，与 internal/migration 中的 SQL 保持一致
type taskRecord struct {
	ID               string  `gorm:"primaryKey;size:64"`
	Type             string  `gorm:"size:32;not null"`
	Status           string  `gorm:"size:16;not null;index;index:idx_tasks_status_expires_at,priority:1"`
	Engine           string  `gorm:"size:64;not null;default:'';index"`
	RequestedEngine  string  `gorm:"size:64;not null;default:''"`
	Priority         int     `gorm:"not null;default:5"`
	Payload          []byte  `gorm:"not null"`
	PayloadSize      int     `gorm:"not null;default:0"`
	CompressionRatio float64 `gorm:"not null;default:1"`
	CacheKey         string  `gorm:"size:32;not null;default:'';index"`
	Result           []byte
	Context          string    `gorm:"type:text;not null"`
	OriginClient     string    `gorm:"size:32;not null;default:'';index"`
	CreatedAt        time.Time `gorm:"not null;index"`
	StartedAt        *time.Time
	CompletedAt      *time.Time
	ExpiresAt        time.Time `gorm:"not null;index;index:idx_tasks_status_expires_at,priority:2"`
	Metrics          *string   `gorm:"type:text"`
	ErrorCode        string    `gorm:"size:64;not null;default:''"`
	ErrorMessage     string    `gorm:"type:text;not null"`
	RetryCount       int       `gorm:"not null;default:0"`
}

func (taskRecord) TableName() string { return "tasks" }

// toRecord 转换为行；payload/result 由调用方编码后传入
func toRecord(t *task.Task, payload, result []byte) (*taskRecord, error) {
	ctxJSON, err := json.Marshal(t.Context)
	if err != nil {
		return nil, types.NewError(types.ErrStoreError, "encode task context").WithCause(err)
	}

	rec := &taskRecord{
		ID:               t.ID,
		Type:             string(t.Type),
		Status:           string(t.Status),
		Engine:           t.Engine,
		RequestedEngine:  t.RequestedEngine,
		Priority:         t.Priority,
		Payload:          payload,
		PayloadSize:      t.PayloadSize,
		CompressionRatio: t.CompressionRatio,
		CacheKey:         t.CacheKey,
		Result:           result,
		Context:          string(ctxJSON),
		OriginClient:     t.Context.OriginClient(),
		CreatedAt:        t.CreatedAt.UTC(),
		StartedAt:        utcPtr(t.StartedAt),
		CompletedAt:      utcPtr(t.CompletedAt),
		ExpiresAt:        t.ExpiresAt.UTC(),
		RetryCount:       t.RetryCount,
	}

	if t.Metrics != nil {
		m, err := json.Marshal(t.Metrics)
		if err != nil {
			return nil, types.NewError(types.ErrStoreError, "encode task metrics").WithCause(err)
		}
		s := string(m)
		rec.Metrics = &s
	}
	if t.Error != nil {
		rec.ErrorCode = string(t.Error.Code)
		rec.ErrorMessage = t.Error.Message
	}
	return rec, nil
}

// toTask 转换为任务；payload/result 由调用方解码
func (r *taskRecord) toTask() (*task.Task, error) {
	t := &task.Task{
		ID:               r.ID,
		Type:             task.Type(r.Type),
		Status:           task.Status(r.Status),
		Engine:           r.Engine,
		RequestedEngine:  r.RequestedEngine,
		Priority:         r.Priority,
		PayloadSize:      r.PayloadSize,
		CompressionRatio: r.CompressionRatio,
		CacheKey:         r.CacheKey,
		CreatedAt:        r.CreatedAt.UTC(),
		StartedAt:        utcPtr(r.StartedAt),
		CompletedAt:      utcPtr(r.CompletedAt),
		ExpiresAt:        r.ExpiresAt.UTC(),
		RetryCount:       r.RetryCount,
	}

	if r.Context != "" {
		var c loopguard.Context
		if err := json.Unmarshal([]byte(r.Context), &c); err != nil {
			return nil, types.Errorf(types.ErrStoreError, "decode context of task %s", r.ID).WithCause(err)
		}
		t.Context = c
	}
	if r.Metrics != nil && *r.Metrics != "" {
		var m task.Metrics
		if err := json.Unmarshal([]byte(*r.Metrics), &m); err != nil {
			return nil, types.Errorf(types.ErrStoreError, "decode metrics of task %s", r.ID).WithCause(err)
		}
		t.Metrics = &m
	}
	if r.ErrorCode != "" {
		t.Error = &task.ErrorInfo{Code: types.ErrorCode(r.ErrorCode), Message: r.ErrorMessage}
	}
	return t, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
