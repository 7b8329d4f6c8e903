// Package audit emits append-only JSON records for every sensitive
// marketplace action: registrations, lifecycle transitions, guard
// toggles, and token issuance.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"unitask.org/internal/auth"
	"unitask.org/internal/obs"
)

type ctxKey int

const requestIDKey ctxKey = iota

// entry is the wire shape of one audit record.
type entry struct {
	Timestamp string         `json:"ts"`
	Type      string         `json:"type"`
	Event     string         `json:"event"`
	RequestID string         `json:"request_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	Fields    map[string]any `json:"fields"`
}

// WithRequestID carries the request identifier so records emitted
// deeper in the call chain correlate with the access log.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// LogEvent records one audit event, picking up the request id and the
// authenticated user from ctx when present.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}

	rec := entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Type:      "audit",
		Event:     event,
		Fields:    map[string]any{},
	}
	if ctx != nil {
		if rid, ok := ctx.Value(requestIDKey).(string); ok {
			rec.RequestID = rid
		}
		if userID, ok := auth.UserIDFromContext(ctx); ok {
			rec.UserID = userID
		}
	}
	for k, v := range fields {
		rec.Fields[k] = v
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
