package history

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/goodtune/kscreen/internal/storage"
)

// Kind names a history sequence
type Kind string

const (
	KindHeartbeat    Kind = "heartbeat"
	KindDeviceStatus Kind = "device_status"
)

// Retention is how long records are kept
const Retention = 10 * 24 * time.Hour

// DayLayout is the layout of day labels accepted by Query
const DayLayout = "2006-01-02"

// Key returns the storage key holding the sequence
func (k Kind) Key() (string, error) {
	switch k {
	case KindHeartbeat:
		return storage.KeyHeartbeats, nil
	case KindDeviceStatus:
		return storage.KeyDeviceStatus, nil
	default:
		return "", fmt.Errorf("unknown history kind: %s", k)
	}
}

// Record is one snapshot. Timestamp is in unix seconds.
type Record struct {
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Time returns the record timestamp
func (r Record) Time() time.Time {
	return time.Unix(r.Timestamp, 0)
}

// NewRecord builds a record at ts carrying payload encoded as JSON
func NewRecord(ts time.Time, payload any) (Record, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Record{}, fmt.Errorf("marshal payload: %w", err)
	}
	return Record{Timestamp: ts.Unix(), Payload: data}, nil
}

// HeartbeatPayload is the periodic status snapshot
type HeartbeatPayload struct {
	ForegroundApp string `json:"foreground_app"`
	WatermarkMs   int64  `json:"watermark_ms"`
	OpenSessions  int    `json:"open_sessions"`
}

// DeviceStatusPayload records a screen transition
type DeviceStatusPayload struct {
	ScreenOn bool `json:"screen_on"`
}
