package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"keeprates/internal/rates"
)

// Event types carried in the message value.
const (
	TypeRateSampled = "rate.sampled"
	TypeScrapeBatch = "scrape.batch"
)

// Publisher fans scrape outcomes out to downstream consumers.
type Publisher interface {
	PublishBatch(ctx context.Context, batch rates.BatchResult) error
	Close() error
}

// RateSampled is emitted once per valid sample.
type RateSampled struct {
	Type                  string           `json:"type"`
	JobID                 string           `json:"job_id,omitempty"`
	SourceID              string           `json:"source_id"`
	CurrencyPair          string           `json:"currency_pair"`
	BuyingRate            *decimal.Decimal `json:"buying_rate,omitempty"`
	SellingRate           *decimal.Decimal `json:"selling_rate,omitempty"`
	TelegraphicBuyingRate *decimal.Decimal `json:"telegraphic_buying_rate,omitempty"`
	IndicativeRate        *decimal.Decimal `json:"indicative_rate,omitempty"`
	ObservedAt            time.Time        `json:"observed_at"`
	SourceURL             string           `json:"source_url,omitempty"`
}

// ScrapeBatch summarises one scrape-all run.
type ScrapeBatch struct {
	Type         string            `json:"type"`
	JobID        string            `json:"job_id"`
	Status       string            `json:"status"`
	StartedAt    time.Time         `json:"started_at"`
	ElapsedMs    int64             `json:"elapsed_ms"`
	TotalSources int               `json:"total_sources"`
	Succeeded    int               `json:"succeeded"`
	Failed       map[string]string `json:"failed,omitempty"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes JSON events to a single topic.
type KafkaPublisher struct {
	writer messageWriter
	logger zerolog.Logger
}

// NewKafkaPublisher constructs a publisher for brokers/topic.
func NewKafkaPublisher(brokers []string, topic string, logger zerolog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		},
		logger: logger.With().Str("component", "events").Logger(),
	}
}

// PublishBatch writes one rate.sampled message per successful source and a
// closing scrape.batch message.
func (p *KafkaPublisher) PublishBatch(ctx context.Context, batch rates.BatchResult) error {
	msgs, err := BuildMessages(batch, time.Now().UTC())
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write kafka messages: %w", err)
	}
	p.logger.Debug().Str("job_id", batch.JobID).Int("messages", len(msgs)).Msg("batch published")
	return nil
}

// Close flushes pending writes.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// BuildMessages encodes a batch into Kafka messages.
func BuildMessages(batch rates.BatchResult, at time.Time) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, batch.Succeeded+1)
	summary := ScrapeBatch{
		Type:         TypeScrapeBatch,
		JobID:        batch.JobID,
		Status:       batch.Status(),
		StartedAt:    batch.StartedAt,
		ElapsedMs:    batch.Elapsed.Milliseconds(),
		TotalSources: batch.TotalSources,
		Succeeded:    batch.Succeeded,
	}

	for _, r := range batch.Results {
		if !r.Succeeded || r.Sample == nil {
			if summary.Failed == nil {
				summary.Failed = make(map[string]string)
			}
			summary.Failed[r.SourceID] = r.Error
			continue
		}
		value, err := json.Marshal(newRateSampled(batch.JobID, *r.Sample))
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", TypeRateSampled, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:     []byte(r.SourceID),
			Value:   value,
			Time:    at,
			Headers: []kafka.Header{{Key: "type", Value: []byte(TypeRateSampled)}},
		})
	}

	value, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", TypeScrapeBatch, err)
	}
	msgs = append(msgs, kafka.Message{
		Key:     []byte(batch.JobID),
		Value:   value,
		Time:    at,
		Headers: []kafka.Header{{Key: "type", Value: []byte(TypeScrapeBatch)}},
	})
	return msgs, nil
}

func newRateSampled(jobID string, s rates.Sample) RateSampled {
	return RateSampled{
		Type:                  TypeRateSampled,
		JobID:                 jobID,
		SourceID:              s.SourceID,
		CurrencyPair:          s.CurrencyPair,
		BuyingRate:            ptr(s.BuyingRate),
		SellingRate:           ptr(s.SellingRate),
		TelegraphicBuyingRate: ptr(s.TelegraphicBuyingRate),
		IndicativeRate:        ptr(s.IndicativeRate),
		ObservedAt:            s.ObservedAt,
		SourceURL:             s.SourceURL,
	}
}

func ptr(v decimal.NullDecimal) *decimal.Decimal {
	if !v.Valid {
		return nil
	}
	d := v.Decimal
	return &d
}

var _ Publisher = (*KafkaPublisher)(nil)
