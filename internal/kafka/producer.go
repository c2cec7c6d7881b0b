package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"hac-shop/internal/logger"
	"hac-shop/internal/metrics"
	"hac-shop/internal/models"
)

// Booking lifecycle event types. Each is published to "<prefix>.<type>".
const (
	EventCreated   = "created"
	EventPaid      = "paid"
	EventCancelled = "cancelled"
	EventRefunded  = "refunded"
)

var EventTypes = []string{EventCreated, EventPaid, EventCancelled, EventRefunded}

// BookingEvent is the JSON payload of every booking topic.
type BookingEvent struct {
	Type         string               `json:"type"`
	BookingID    string               `json:"booking_id"`
	DrillNightID int64                `json:"drill_night_id"`
	Status       models.PaymentStatus `json:"status"`
	Quantity     int                  `json:"quantity"`
	Email        string               `json:"email"`
	OccurredAt   time.Time            `json:"occurred_at"`
}

type Producer struct {
	Writer  *kafka.Writer
	Prefix  string
	log     *logger.Logger
	metrics *metrics.Metrics
}

func NewProducer(brokers []string, prefix string, log *logger.Logger, m *metrics.Metrics) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Producer{Writer: writer, Prefix: prefix, log: log, metrics: m}
}

// Topic maps an event type onto its topic name.
func Topic(prefix, eventType string) string {
	return prefix + "." + eventType
}

// BookingTopics lists every topic the producer may write to.
func BookingTopics(prefix string) []string {
	topics := make([]string, 0, len(EventTypes))
	for _, t := range EventTypes {
		topics = append(topics, Topic(prefix, t))
	}
	return topics
}

// BuildMessage encodes b as an event keyed by booking id so that all events of
// one booking land on the same partition.
func BuildMessage(prefix, eventType string, b *models.Booking, at time.Time) (kafka.Message, error) {
	event := BookingEvent{
		Type:         eventType,
		BookingID:    b.ID.String(),
		DrillNightID: b.DrillNightID,
		Status:       b.Status,
		Quantity:     b.Quantity,
		Email:        b.Email,
		OccurredAt:   at.UTC(),
	}
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Topic: Topic(prefix, eventType),
		Key:   []byte(event.BookingID),
		Value: value,
		Time:  at,
	}, nil
}

// PublishBookingEvent streams one lifecycle event for b.
func (p *Producer) PublishBookingEvent(ctx context.Context, eventType string, b *models.Booking) error {
	msg, err := BuildMessage(p.Prefix, eventType, b, time.Now())
	if err != nil {
		return err
	}

	err = p.Writer.WriteMessages(ctx, msg)
	p.metrics.ObservePublish(msg.Topic, err)
	if err != nil {
		p.log.Error("KAFKA", fmt.Sprintf("Failed to publish %s for booking %s: %v", msg.Topic, b.ID, err))
		return err
	}
	p.log.LogKafka("PUBLISH", msg.Topic, b.ID.String())
	return nil
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
