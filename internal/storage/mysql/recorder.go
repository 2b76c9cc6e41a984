package mysql

import (
	"context"
	"log/slog"
	"time"

	xerrors "Auditum/internal/errors"
	"Auditum/pkg/logger"
	"Auditum/pkg/module"
)

// Recorder 将加载事件写入 LoadHistory，实现 module.Observer。发现阶段的事件不落库。
type Recorder struct {
	history LoadHistory
	logger  *slog.Logger
	timeout time.Duration
}

// NewRecorder 创建加载历史记录器，写库失败只记录日志，不影响加载流程。
func NewRecorder(history LoadHistory, lg *slog.Logger) *Recorder {
	if lg == nil {
		lg = logger.Named("load_history")
	}
	return &Recorder{history: history, logger: lg, timeout: 5 * time.Second}
}

// Observe 实现 module.Observer。
func (r *Recorder) Observe(ctx context.Context, event module.Event) {
	if r == nil || r.history == nil {
		return
	}
	record, ok := RecordFromEvent(event)
	if !ok {
		return
	}

	// 写入不随调用方取消。
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if err := r.history.Save(saveCtx, &record); err != nil {
		r.logger.WarnContext(ctx, "写入加载历史失败",
			slog.String("module", record.Module),
			slog.Any("error", xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存加载记录失败")))
	}
}

// RecordFromEvent 将加载事件转换为落库结构，非加载事件返回 false。
func RecordFromEvent(event module.Event) (LoadRecord, bool) {
	var outcome string
	switch event.Kind {
	case module.EventLoaded:
		outcome = OutcomeLoaded
	case module.EventLoadFailed:
		outcome = OutcomeFailed
	default:
		return LoadRecord{}, false
	}

	at := event.At
	if at.IsZero() {
		at = time.Now()
	}
	record := LoadRecord{
		LoadID:     event.LoadID,
		Module:     event.Module,
		Role:       string(event.Role),
		Path:       event.Path,
		Outcome:    outcome,
		DurationMS: event.Duration.Milliseconds(),
		CreatedAt:  at.Unix(),
	}
	if event.Err != nil {
		record.ErrorCode = string(xerrors.RootCode(event.Err))
		record.ErrorMessage = event.Err.Error()
	}
	return record, true
}
