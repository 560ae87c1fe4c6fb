package kafka

import (
	"encoding/json"
	"time"
)

// TopicOrderEvents: topic событий жизненного цикла заказов.
const TopicOrderEvents = "pdfstore.order.events"

// Заголовки сообщений, по которым потребители фильтруют события без разбора тела.
const (
	HeaderEventType   = "x-event-type"
	HeaderAggregateID = "x-aggregate-id"
	HeaderMessageID   = "x-message-id"
)

// Envelope: формат сообщения в topic. Payload содержит данные события как есть.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// DecodeEnvelope разбирает сообщение из topic.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(raw, &env)
	return env, err
}
