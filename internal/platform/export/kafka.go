package export

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/ehr/census/internal/domain/census"
	"github.com/ehr/census/internal/domain/stay"
	"github.com/ehr/census/internal/platform/batch"
)

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes every stay keyed by HAR, so one encounter's stays land
// on one partition, and every census hour keyed by its timestamp.
type KafkaSink struct {
	stays  MessageWriter
	census MessageWriter
	logger zerolog.Logger
}

// NewKafkaWriter builds a hash-balanced writer for topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
}

func NewKafkaSink(stays, census MessageWriter, logger zerolog.Logger) *KafkaSink {
	return &KafkaSink{stays: stays, census: census, logger: logger.With().Str("component", "kafka-export").Logger()}
}

func (s *KafkaSink) Name() string { return "kafka" }

type stayMessage struct {
	RunID string `json:"run_id"`
	stay.Stay
}

type censusMessage struct {
	RunID string `json:"run_id"`
	census.Row
}

func (s *KafkaSink) Write(ctx context.Context, res *batch.Result) error {
	runID := res.RunID.String()
	header := []kafka.Header{{Key: "run_id", Value: []byte(runID)}}

	stays := make([]kafka.Message, 0, len(res.Stays))
	for _, st := range res.Stays {
		v, err := json.Marshal(stayMessage{RunID: runID, Stay: st})
		if err != nil {
			return fmt.Errorf("encode stay: %w", err)
		}
		stays = append(stays, kafka.Message{Key: []byte(strconv.FormatInt(st.HAR, 10)), Value: v, Headers: header})
	}
	rows := make([]kafka.Message, 0, len(res.Census.Rows))
	for _, row := range res.Census.Rows {
		v, err := json.Marshal(censusMessage{RunID: runID, Row: row})
		if err != nil {
			return fmt.Errorf("encode census row: %w", err)
		}
		rows = append(rows, kafka.Message{Key: []byte(row.Timestamp.UTC().Format(time.RFC3339)), Value: v, Headers: header})
	}

	if len(stays) > 0 {
		if err := s.stays.WriteMessages(ctx, stays...); err != nil {
			return fmt.Errorf("publish stays: %w", err)
		}
	}
	if len(rows) > 0 {
		if err := s.census.WriteMessages(ctx, rows...); err != nil {
			return fmt.Errorf("publish census: %w", err)
		}
	}
	s.logger.Debug().Str("run_id", runID).Int("stays", len(stays)).Int("rows", len(rows)).Msg("run published")
	return nil
}

func (s *KafkaSink) Close() error {
	err := s.stays.Close()
	if cerr := s.census.Close(); err == nil {
		err = cerr
	}
	return err
}
