package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/IBM/sarama"

	"eventpay_echo/internal/models"
)

const (
	EventPaymentCreated        = "payment.created"
	EventPaymentStatusChanged  = "payment.status_changed"
	EventRegistrationConfirmed = "registration.confirmed"
)

// PaymentEvent is published whenever a payment or its registration changes
type PaymentEvent struct {
	Type           string               `json:"type"`
	OrderID        string               `json:"order_id"`
	PaymentID      string               `json:"payment_id"`
	UserID         uint                 `json:"user_id"`
	EventID        uint                 `json:"event_id"`
	Method         models.PaymentMethod `json:"method"`
	Status         models.PaymentStatus `json:"status"`
	PreviousStatus models.PaymentStatus `json:"previous_status,omitempty"`
	Amount         int64                `json:"amount"`
	Currency       string               `json:"currency"`
	RegistrationID *uint                `json:"registration_id,omitempty"`
	OccurredAt     time.Time            `json:"occurred_at"`
}

func newPaymentEvent(eventType string, p *models.Payment) PaymentEvent {
	return PaymentEvent{
		Type:           eventType,
		OrderID:        p.OrderID,
		PaymentID:      p.PaymentID,
		UserID:         p.UserID,
		EventID:        p.EventID,
		Method:         p.Method,
		Status:         p.Status,
		Amount:         p.Amount,
		Currency:       p.Currency,
		RegistrationID: p.RegistrationID,
		OccurredAt:     time.Now(),
	}
}

// EventPublisher fans payment events out to other services
type EventPublisher interface {
	Publish(ctx context.Context, evt PaymentEvent) error
	Close() error
}

// NoopPublisher drops every event; used when no broker is configured
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, evt PaymentEvent) error { return nil }
func (NoopPublisher) Close() error                                       { return nil }

// KafkaPublisher writes events to a single topic keyed by order id
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaPublisher connects to the brokers, retrying while they come up
func NewKafkaPublisher(brokers []string, topic string, attempts int) (*KafkaPublisher, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5

	var producer sarama.SyncProducer
	var err error
	for i := 1; i <= attempts; i++ {
		producer, err = sarama.NewSyncProducer(brokers, config)
		if err == nil {
			log.Printf("Kafka producer initialized for topic %s", topic)
			return NewKafkaPublisherWithProducer(producer, topic), nil
		}
		log.Printf("Waiting for Kafka... (%d/%d) Error: %v", i, attempts, err)
		if i < attempts {
			time.Sleep(5 * time.Second)
		}
	}
	return nil, fmt.Errorf("failed to start kafka producer: %w", err)
}

func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, evt PaymentEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", evt.Type, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(evt.OrderID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(evt.Type)},
		},
	}

	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("failed to send %s kafka message: %w", evt.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
