package events

import (
	"encoding/json"
	"fmt"
	"time"

	xerrors "Auditum/internal/errors"
	"Auditum/pkg/module"
	"github.com/google/uuid"
)

// Message 是发布到外部系统的事件载荷。
type Message struct {
	ID         string           `json:"id"`
	Kind       module.EventKind `json:"kind"`
	Module     string           `json:"module,omitempty"`
	Role       module.Role      `json:"role,omitempty"`
	Path       string           `json:"path"`
	LoadID     string           `json:"load_id,omitempty"`
	ErrorCode  xerrors.Code     `json:"error_code,omitempty"`
	Error      string           `json:"error,omitempty"`
	DurationMS int64            `json:"duration_ms"`
	At         time.Time        `json:"at"`
}

// FromEvent 将观察者事件转换为消息，并分配新的消息 ID。
func FromEvent(event module.Event) Message {
	at := event.At
	if at.IsZero() {
		at = time.Now()
	}
	msg := Message{
		ID:         uuid.NewString(),
		Kind:       event.Kind,
		Module:     event.Module,
		Role:       event.Role,
		Path:       event.Path,
		LoadID:     event.LoadID,
		DurationMS: event.Duration.Milliseconds(),
		At:         at.UTC(),
	}
	if event.Err != nil {
		msg.ErrorCode = xerrors.RootCode(event.Err)
		msg.Error = event.Err.Error()
	}
	return msg
}

// Encode 序列化消息。
func (m Message) Encode() ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("序列化事件失败: %w", err)
	}
	return payload, nil
}

// Decode 反序列化消息。
func Decode(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, fmt.Errorf("解析事件失败: %w", err)
	}
	return msg, nil
}
