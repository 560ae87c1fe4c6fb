package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
	"github.com/vladislavdragonenkov/pdfstore/internal/messaging/kafka"
)

// initKafkaProducer создаёт producer, если заданы брокеры.
// Без брокеров возвращает nil, nil: события outbox пишутся в лог.
func initKafkaProducer(cfg KafkaConfig, logger *log.Entry) (*kafka.Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(kafka.Config{Brokers: cfg.Brokers, ClientID: cfg.ClientID}, logger.WithField("component", "kafka-producer"))
	if err != nil {
		return nil, err
	}

	logger.WithField("brokers", cfg.Brokers).Info("kafka producer initialized")
	return producer, nil
}

func kafkaPublisher(producer *kafka.Producer, topic string) domain.OutboxPublisher {
	return kafka.NewOutboxPublisher(producer, topic)
}

// closeKafka закрывает producer, если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) error {
	if producer == nil {
		return nil
	}
	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
		return err
	}
	logger.Info("kafka producer closed")
	return nil
}
