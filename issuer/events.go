package issuer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coolbank/cardflow/internal/cardgen"
	"github.com/coolbank/cardflow/issuer/models"
	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
)

const (
	EventCardIssued        = "card.issued"
	EventCardStatusChanged = "card.status_changed"
	EventCardDeleted       = "card.deleted"
)

// CardEvent describes a card lifecycle change. It never carries the full
// card number or the CVV.
type CardEvent struct {
	Type         string    `json:"type"`
	CardID       uuid.UUID `json:"card_id"`
	AccountID    uuid.UUID `json:"account_id"`
	CardHolderID uuid.UUID `json:"card_holder_id"`
	MaskedNumber string    `json:"masked_number"`
	Status       string    `json:"status"`
	OccurredAt   time.Time `json:"occurred_at"`
}

func newCardEvent(typ string, card *models.Card, at time.Time) CardEvent {
	return CardEvent{
		Type:         typ,
		CardID:       card.ID,
		AccountID:    card.AccountID,
		CardHolderID: card.CardHolderID,
		MaskedNumber: cardgen.MaskPAN(card.CardNumber),
		Status:       card.Status,
		OccurredAt:   at.UTC(),
	}
}

type EventPublisher interface {
	Publish(ctx context.Context, events ...CardEvent) error
}

// NopPublisher drops events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, ...CardEvent) error { return nil }

// KafkaPublisher writes events as JSON records keyed by card id, so all
// events of one card land on the same partition.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
}

func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("creating kafka client: %w", err)
	}
	return &KafkaPublisher{client: client, topic: topic}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, events ...CardEvent) error {
	if len(events) == 0 {
		return nil
	}
	records := make([]*kgo.Record, 0, len(events))
	for _, e := range events {
		value, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encoding %s event: %w", e.Type, err)
		}
		records = append(records, &kgo.Record{
			Topic: p.topic,
			Key:   []byte(e.CardID.String()),
			Value: value,
			Headers: []kgo.RecordHeader{
				{Key: "event-type", Value: []byte(e.Type)},
			},
		})
	}
	if err := p.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("producing card events: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

func (p *KafkaPublisher) Close() {
	p.client.Close()
}
