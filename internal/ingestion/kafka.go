package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mr1hm/go-unrest-alerts/internal/config"
)

// KafkaIntake consumes raw records from a Kafka topic. Commits are
// manual: an offset commits only after the record processed cleanly or
// its payload landed on the dead-letter topic.
type KafkaIntake struct {
	reader    *kafka.Reader
	dlq       *kafka.Writer
	processor Processor
	wg        sync.WaitGroup
}

func NewKafkaIntake(cfg config.KafkaConfig, processor Processor) *KafkaIntake {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1e3,
		MaxBytes:       10e6,
		CommitInterval: 0, // Disable auto-commit; manual commit only
	})

	var dlq *kafka.Writer
	if cfg.DLQTopic != "" {
		dlq = kafka.NewWriter(kafka.WriterConfig{
			Brokers:     cfg.Brokers,
			Topic:       cfg.DLQTopic,
			MaxAttempts: 3,
		})
	}

	return &KafkaIntake{reader: reader, dlq: dlq, processor: processor}
}

func (k *KafkaIntake) Start(ctx context.Context) {
	k.wg.Add(1)
	go k.run(ctx)
}

func (k *KafkaIntake) run(ctx context.Context) {
	defer k.wg.Done()
	slog.Info("kafka intake started",
		"topic", k.reader.Config().Topic, "group", k.reader.Config().GroupID)

	for {
		msg, err := k.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				slog.Info("kafka intake shutting down")
				return
			}
			slog.Error("error fetching message", "error", err)
			continue
		}

		if err := k.handle(ctx, msg); err != nil {
			slog.Warn("record processing failed, sending to DLQ",
				"error", err, "partition", msg.Partition, "offset", msg.Offset)
			if !k.deadLetter(ctx, msg, err) {
				// Offset stays uncommitted so the record replays on restart.
				continue
			}
		}

		if err := k.reader.CommitMessages(ctx, msg); err != nil {
			slog.Error("error committing message", "error", err)
		}
	}
}

func (k *KafkaIntake) handle(ctx context.Context, msg kafka.Message) error {
	var rec Record
	if err := json.Unmarshal(msg.Value, &rec); err != nil {
		return fmt.Errorf("error unmarshaling record: %w", err)
	}
	return k.processor.Process(ctx, rec)
}

// deadLetter forwards a failed payload to the DLQ with its provenance.
// It reports whether the original offset is safe to commit.
func (k *KafkaIntake) deadLetter(ctx context.Context, msg kafka.Message, cause error) bool {
	if k.dlq == nil {
		return true
	}

	dlqMsg := kafka.Message{
		Value: msg.Value,
		Headers: append(msg.Headers,
			kafka.Header{Key: "original_partition", Value: []byte(fmt.Sprintf("%d", msg.Partition))},
			kafka.Header{Key: "original_offset", Value: []byte(fmt.Sprintf("%d", msg.Offset))},
			kafka.Header{Key: "error", Value: []byte(cause.Error())},
			kafka.Header{Key: "timestamp", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		),
	}

	for attempt := 0; attempt < 5; attempt++ {
		err := k.dlq.WriteMessages(ctx, dlqMsg)
		if err == nil {
			return true
		}

		backoff := time.Duration(1<<uint(attempt)) * time.Second
		slog.Warn("DLQ write failed, retrying",
			"error", err, "attempt", attempt+1, "backoff", backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return false
		}
	}

	slog.Error("DLQ write exhausted retries, leaving offset uncommitted",
		"partition", msg.Partition, "offset", msg.Offset)
	return false
}

func (k *KafkaIntake) Stop() error {
	k.wg.Wait()

	err := k.reader.Close()
	if k.dlq != nil {
		if derr := k.dlq.Close(); derr != nil && err == nil {
			err = derr
		}
	}
	return err
}
