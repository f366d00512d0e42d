package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bytedance/sonic"
)

// PayloadFormat selects how JSONLinesSink renders payload bytes.
type PayloadFormat string

const (
	PayloadBase64 PayloadFormat = "base64"
	PayloadText   PayloadFormat = "text"
	PayloadJSON   PayloadFormat = "json"
)

func ParsePayloadFormat(s string) (PayloadFormat, error) {
	switch f := PayloadFormat(s); f {
	case PayloadBase64, PayloadText, PayloadJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown payload format %q (want base64, text or json)", s)
	}
}

type keyLine struct {
	BasePath string `json:"base_path"`
	EntityID string `json:"entity_id"`
	Subject  string `json:"subject"`
	SourceID string `json:"source_id"`
}

type deliveryLine struct {
	ID            string   `json:"id"`
	Topic         string   `json:"topic"`
	Key           *keyLine `json:"key,omitempty"`
	EnclosedAt    string   `json:"enclosed_at"`
	ReceivedAt    string   `json:"received_at"`
	LatencyMs     float64  `json:"latency_ms"`
	PayloadFormat string   `json:"payload_format"`
	Payload       any      `json:"payload"`
}

// JSONLinesSink writes one JSON object per delivery. Payloads that cannot be shown in
// the requested format fall back to base64, and payload_format names what was used.
type JSONLinesSink struct {
	mu     sync.Mutex
	w      io.Writer
	format PayloadFormat
}

func NewJSONLinesSink(w io.Writer, format PayloadFormat) *JSONLinesSink {
	return &JSONLinesSink{w: w, format: format}
}

func (s *JSONLinesSink) Deliver(_ context.Context, d Delivery) error {
	line := deliveryLine{
		ID:         d.ID.String(),
		Topic:      d.Topic,
		EnclosedAt: d.EnclosedAt.Time().UTC().Format(time.RFC3339Nano),
		ReceivedAt: d.ReceivedAt.Time().UTC().Format(time.RFC3339Nano),
		LatencyMs:  float64(d.Latency()) / float64(time.Millisecond),
	}
	if d.Keyed {
		line.Key = &keyLine{
			BasePath: d.Key.BasePath,
			EntityID: d.Key.EntityID,
			Subject:  d.Key.Subject,
			SourceID: d.Key.SourceID,
		}
	}
	line.PayloadFormat, line.Payload = renderPayload(d.Payload, s.format)

	b, err := sonic.Marshal(line)
	if err != nil {
		return fmt.Errorf("marshal delivery %s: %w", d.ID, err)
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(b); err != nil {
		return fmt.Errorf("write delivery %s: %w", d.ID, err)
	}
	return nil
}

func renderPayload(p []byte, format PayloadFormat) (string, any) {
	switch format {
	case PayloadJSON:
		if len(p) > 0 && sonic.Valid(p) {
			return string(PayloadJSON), json.RawMessage(p)
		}
	case PayloadText:
		if utf8.Valid(p) {
			return string(PayloadText), string(p)
		}
	}
	return string(PayloadBase64), base64.StdEncoding.EncodeToString(p)
}
