package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/bytedance/sonic"

	"websocket-kanban/domain"
)

const (
	// server -> client
	EventSyncTasks   = "sync:tasks"
	EventTaskCreated = "task:created"
	EventTaskUpdated = "task:updated"
	EventTaskMoved   = "task:moved"
	EventTaskDeleted = "task:deleted"
	EventError       = "error"

	// client -> server
	EventTaskCreate = "task:create"
	EventTaskUpdate = "task:update"
	EventTaskMove   = "task:move"
	EventTaskDelete = "task:delete"
)

const (
	frameMaxSize = 64 * 1024 // 64 KiB
	maxKeyLen    = 128
)

var (
	errMalformedFrame = errors.New("malformed message")
	errUnknownEvent   = errors.New("unknown event")
	errMissingTaskID  = &domain.ValidationError{Field: "taskId", Reason: "task id is required"}
)

// inboundFrame is a client message. Key is an optional idempotency key.
type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Key   string          `json:"key,omitempty"`
}

type outboundFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// task:move payload
type movePayload struct {
	TaskID    string `json:"taskId"`
	NewColumn string `json:"newColumn"`
}

// task:delete object payload; a bare JSON string is accepted too
type deletePayload struct {
	ID     string `json:"id"`
	TaskID string `json:"taskId"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// encodeFrame serializes a server event once so it can be fanned out to
// every subscriber as the same byte slice.
func encodeFrame(event string, data any) ([]byte, error) {
	return sonic.ConfigStd.Marshal(outboundFrame{Event: event, Data: data})
}

func errorFrame(msg string) []byte {
	b, err := encodeFrame(EventError, errorPayload{Message: msg})
	if err != nil {
		// errorPayload always encodes
		return []byte(`{"event":"error","data":{"message":"internal error"}}`)
	}
	return b
}

func decodeFrame(raw []byte) (inboundFrame, error) {
	var f inboundFrame
	if err := sonic.ConfigStd.Unmarshal(raw, &f); err != nil {
		return inboundFrame{}, errMalformedFrame
	}
	f.Event = strings.TrimSpace(f.Event)
	if f.Event == "" {
		return inboundFrame{}, errMalformedFrame
	}
	if len(f.Key) > maxKeyLen {
		return inboundFrame{}, &domain.ValidationError{Field: "key", Reason: "idempotency key is too long"}
	}
	return f, nil
}

func decodeData(data json.RawMessage, v any) error {
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return errMalformedFrame
	}
	if err := sonic.ConfigStd.Unmarshal(data, v); err != nil {
		return errMalformedFrame
	}
	return nil
}

func decodeDraft(data json.RawMessage) (domain.TaskDraft, error) {
	var d domain.TaskDraft
	if err := decodeData(data, &d); err != nil {
		return domain.TaskDraft{}, err
	}
	// validate before queueing; the store validates again on apply
	if _, err := d.Normalize(); err != nil {
		return domain.TaskDraft{}, err
	}
	return d, nil
}

func decodePatch(data json.RawMessage) (domain.TaskPatch, error) {
	var p domain.TaskPatch
	if err := decodeData(data, &p); err != nil {
		return domain.TaskPatch{}, err
	}
	if err := p.Validate(); err != nil {
		return domain.TaskPatch{}, err
	}
	return p, nil
}

func decodeMove(data json.RawMessage) (movePayload, error) {
	var m movePayload
	if err := decodeData(data, &m); err != nil {
		return movePayload{}, err
	}
	m.TaskID = strings.TrimSpace(m.TaskID)
	if m.TaskID == "" {
		return movePayload{}, errMissingTaskID
	}
	if _, err := domain.ParseColumn(m.NewColumn); err != nil {
		return movePayload{}, err
	}
	return m, nil
}

func decodeDelete(data json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(data)
	var id string
	if len(trimmed) > 0 && trimmed[0] == '"' {
		if err := sonic.ConfigStd.Unmarshal(trimmed, &id); err != nil {
			return "", errMalformedFrame
		}
	} else {
		var p deletePayload
		if err := decodeData(data, &p); err != nil {
			return "", err
		}
		id = p.ID
		if id == "" {
			id = p.TaskID
		}
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errMissingTaskID
	}
	return id, nil
}

// clientMessage converts a decode or validation failure into the text sent
// back in an error event.
func clientMessage(err error) string {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return verr.Error()
	case errors.Is(err, errMalformedFrame), errors.Is(err, errUnknownEvent):
		return err.Error()
	default:
		return "internal error"
	}
}
