package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// FeedConfig configures the Kafka topics that carry oracle traffic.
type FeedConfig struct {
	Brokers       []string `json:"brokers"`
	RequestTopic  string   `json:"request_topic"`
	ResponseTopic string   `json:"response_topic"`
	GroupID       string   `json:"group_id"`
	WriteTimeout  time.Duration
}

// DefaultFeedConfig returns the local development configuration.
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		Brokers:       []string{"localhost:9092"},
		RequestTopic:  "oracle.price.requests",
		ResponseTopic: "oracle.price.responses",
		GroupID:       "coinvest-settlement",
		WriteTimeout:  time.Second,
	}
}

// PriceRequest is the outbound query published for the oracle bridge.
type PriceRequest struct {
	RequestID uuid.UUID `json:"request_id"`
	Query     string    `json:"query"`
	GasPrice  uint64    `json:"gas_price"`
	CreatedAt time.Time `json:"created_at"`
}

// PriceResponse is the inbound callback delivered at least once per
// request id. Proof validation is delegated to the bridge.
type PriceResponse struct {
	RequestID uuid.UUID       `json:"request_id"`
	Payload   json.RawMessage `json:"payload"`
	Proof     string          `json:"proof"`
}

// ResponseHandler consumes one decoded price callback. A non-nil error
// leaves the order pending; Kafka's at-least-once delivery doubles as
// the retry mechanism.
type ResponseHandler func(ctx context.Context, requestID uuid.UUID, payload []byte) error

// Feed publishes price requests and consumes price responses.
type Feed struct {
	config FeedConfig
	writer *kafka.Writer
	logger *zap.Logger
}

// NewFeed creates the Kafka-backed oracle feed.
func NewFeed(config FeedConfig, logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.RequestTopic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: config.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
	}
	return &Feed{config: config, writer: writer, logger: logger}
}

// PublishQuery emits the crafted query keyed by its correlation id.
func (f *Feed) PublishQuery(ctx context.Context, requestID uuid.UUID, query string, gasPrice uint64) error {
	req := PriceRequest{
		RequestID: requestID,
		Query:     query,
		GasPrice:  gasPrice,
		CreatedAt: time.Now(),
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal price request: %w", err)
	}
	return f.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(requestID.String()),
		Value: data,
	})
}

// Run consumes the response topic until the context is cancelled. A
// failing handler is logged and the message retried by redelivery; the
// corresponding order stays pending throughout.
func (f *Feed) Run(ctx context.Context, handler ResponseHandler) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: f.config.Brokers,
		Topic:   f.config.ResponseTopic,
		GroupID: f.config.GroupID,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			f.logger.Error(fmt.Sprintf(msg, args...))
		}),
	})
	defer reader.Close()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.Error("failed to fetch oracle response", zap.Error(err))
			continue
		}

		var resp PriceResponse
		if err := json.Unmarshal(msg.Value, &resp); err != nil {
			f.logger.Error("invalid oracle response message",
				zap.Error(err),
				zap.Int64("offset", msg.Offset))
			// Unparseable messages can never settle; drop them.
			if err := reader.CommitMessages(ctx, msg); err != nil {
				f.logger.Error("failed to commit oracle response", zap.Error(err))
			}
			continue
		}

		if err := handler(ctx, resp.RequestID, resp.Payload); err != nil {
			f.logger.Error("settlement callback failed",
				zap.Error(err),
				zap.String("request_id", resp.RequestID.String()))
			continue
		}
		if err := reader.CommitMessages(ctx, msg); err != nil {
			f.logger.Error("failed to commit oracle response", zap.Error(err))
		}
	}
}

// Close releases the request writer.
func (f *Feed) Close() error { return f.writer.Close() }
