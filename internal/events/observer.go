package events

import (
	"context"
	"log/slog"
	"time"

	xerrors "Auditum/internal/errors"
	"Auditum/pkg/logger"
	"Auditum/pkg/module"
)

// Observer 将生命周期事件转发给 Publisher，实现 module.Observer。
type Observer struct {
	publisher Publisher
	logger    *slog.Logger
	timeout   time.Duration
}

// NewObserver 创建事件转发器。发布失败只记录日志，不影响发现与加载。
func NewObserver(publisher Publisher, lg *slog.Logger) *Observer {
	if lg == nil {
		lg = logger.Named("events")
	}
	return &Observer{publisher: publisher, logger: lg, timeout: 3 * time.Second}
}

// Observe 实现 module.Observer。
func (o *Observer) Observe(ctx context.Context, event module.Event) {
	if o == nil || o.publisher == nil {
		return
	}
	msg := FromEvent(event)
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)
	defer cancel()
	if err := o.publisher.Publish(pubCtx, msg); err != nil {
		o.logger.WarnContext(ctx, "发布生命周期事件失败",
			slog.String("kind", string(msg.Kind)),
			slog.String("path", msg.Path),
			slog.Any("error", xerrors.Wrap(xerrors.CodePublishFailure, err, "发布事件失败")))
	}
}
