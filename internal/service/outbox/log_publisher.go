package outbox

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
)

// LogPublisher пишет события в лог. Используется, когда Kafka не настроена:
// outbox всё равно вычищается и события видны в логах.
type LogPublisher struct {
	logger *log.Entry
}

// NewLogPublisher создаёт publisher в лог.
func NewLogPublisher(logger *log.Entry) *LogPublisher {
	if logger == nil {
		logger = log.WithField("component", "outbox-log-publisher")
	}
	return &LogPublisher{logger: logger}
}

// Publish логирует событие на уровне info.
func (p *LogPublisher) Publish(_ context.Context, event domain.OutboxMessage) error {
	p.logger.WithFields(log.Fields{
		"outbox_id":  event.ID,
		"event_type": event.EventType,
		"order_id":   event.AggregateID,
		"payload":    string(event.Payload),
	}).Info("order event")
	return nil
}

var _ domain.OutboxPublisher = (*LogPublisher)(nil)
