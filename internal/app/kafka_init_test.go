package app

import (
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestInitKafkaProducer_NoBrokers(t *testing.T) {
	producer, err := initKafkaProducer(KafkaConfig{}, log.WithField("component", "test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if producer != nil {
		t.Fatal("expected nil producer without brokers")
	}
}

func TestCloseKafka_Nil(t *testing.T) {
	if err := closeKafka(nil, log.WithField("component", "test")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
