package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/samijaber1/storepulse/internal/domain"
)

// NewWriter creates a producer for the metrics topic. Used by onboarding
// tooling and tests; the engine itself only consumes.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 250 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
}

// NewReader creates a consumer-group reader for the metrics topic.
func NewReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		MaxWait:        time.Second,
	})
}

// PublishSubmission writes one metric submission, keyed by store so a
// store's corrections stay ordered within a partition.
func PublishSubmission(ctx context.Context, writer *kafka.Writer, sub domain.MetricSubmission) error {
	body, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	return writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(sub.StoreID),
		Value: body,
		Time:  time.Now().UTC(),
	})
}

// ParseSubmission decodes and validates one feed message.
func ParseSubmission(value []byte) (domain.MetricSubmission, error) {
	var sub domain.MetricSubmission
	if err := json.Unmarshal(value, &sub); err != nil {
		return sub, fmt.Errorf("decode submission: %w", err)
	}
	if err := ValidateSubmission(sub); err != nil {
		return sub, err
	}
	return sub, nil
}

// ValidateSubmission checks the fields the engine cannot default.
func ValidateSubmission(sub domain.MetricSubmission) error {
	if strings.TrimSpace(sub.StoreID) == "" {
		return fmt.Errorf("submission missing storeId")
	}
	if strings.TrimSpace(sub.KpiCode) == "" {
		return fmt.Errorf("submission missing kpiCode")
	}
	if _, err := time.Parse("2006-01-02", sub.Date); err != nil {
		return fmt.Errorf("submission date %q is not yyyy-mm-dd", sub.Date)
	}
	switch sub.ComparisonBasis {
	case domain.BasisRolling4W, domain.BasisSamePeriodLY, domain.BasisAbsolute, domain.BasisBudget:
	case "":
		return fmt.Errorf("submission missing comparisonBasis")
	default:
		return fmt.Errorf("unknown comparisonBasis %q", sub.ComparisonBasis)
	}
	return nil
}

// Submitter is the slice of the engine the consumer drives.
type Submitter interface {
	Submit(ctx context.Context, sub domain.MetricSubmission, now time.Time) (*domain.HealthSnapshot, error)
}

// Consumer pumps the metrics topic into the engine. Bad messages are
// logged and skipped; the feed must keep moving.
type Consumer struct {
	reader *kafka.Reader
	engine Submitter
}

// NewConsumer creates a consumer over an already configured reader.
func NewConsumer(reader *kafka.Reader, engine Submitter) *Consumer {
	return &Consumer{reader: reader, engine: engine}
}

// Run consumes until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		}

		sub, err := ParseSubmission(msg.Value)
		if err != nil {
			log.Printf("ingest: skipping message at offset %d: %v", msg.Offset, err)
			continue
		}

		if _, err := c.engine.Submit(ctx, sub, time.Now().UTC()); err != nil {
			log.Printf("ingest: submit %s/%s/%s: %v", sub.StoreID, sub.KpiCode, sub.Date, err)
		}
	}
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
