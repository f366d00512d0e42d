package envelopes

import (
	"time"

	"github.com/google/uuid"

	"github.com/keelson-go/envelope-bridge/pkg/bridge"
)

// Row is one archived envelope. Key columns are empty for deliveries whose topic
// is not a topic key.
type Row struct {
	ID         uuid.UUID
	Topic      string
	BasePath   string
	EntityID   string
	Subject    string
	SourceID   string
	EnclosedAt time.Time
	ReceivedAt time.Time
	LatencyNs  int64
	Payload    []byte
}

func RowFromDelivery(d bridge.Delivery) *Row {
	row := &Row{
		ID:         d.ID,
		Topic:      d.Topic,
		EnclosedAt: d.EnclosedAt.Time().UTC(),
		ReceivedAt: d.ReceivedAt.Time().UTC(),
		LatencyNs:  d.Latency().Nanoseconds(),
		Payload:    d.Payload,
	}
	if d.Keyed {
		row.BasePath = d.Key.BasePath
		row.EntityID = d.Key.EntityID
		row.Subject = d.Key.Subject
		row.SourceID = d.Key.SourceID
	}
	return row
}

// values returns the row in envelopeColumns order.
func (r *Row) values() []any {
	return []any{
		r.ID,
		r.Topic,
		r.BasePath,
		r.EntityID,
		r.Subject,
		r.SourceID,
		r.EnclosedAt,
		r.ReceivedAt,
		r.LatencyNs,
		string(r.Payload),
	}
}
