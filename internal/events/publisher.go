package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"trendpulse/internal/domain/trend"
)

// PublisherConfig contains configuration for the event publisher.
type PublisherConfig struct {
	EventsTopic string
	RetryTopic  string
}

// Publisher emits trend lifecycle events over NATS. Degraded trend IDs are
// requeued explicitly on a dedicated subject so the description retry path
// is observable and testable rather than an invisible background task.
type Publisher struct {
	conn   *nats.Conn
	config PublisherConfig
}

// NewPublisher creates a new event publisher.
func NewPublisher(conn *nats.Conn, config PublisherConfig) *Publisher {
	if config.EventsTopic == "" {
		config.EventsTopic = "trend"
	}
	if config.RetryTopic == "" {
		config.RetryTopic = "trend.description.retry"
	}
	return &Publisher{
		conn:   conn,
		config: config,
	}
}

type trendEvent struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Score    float64   `json:"score"`
	Degraded bool      `json:"degraded"`
	Time     time.Time `json:"time"`
}

// TrendCreated announces a committed trend.
func (p *Publisher) TrendCreated(t trend.Trend, score float64) error {
	return p.publishTrend("created", t, score)
}

// TrendUpdated announces a trend whose description was regenerated, carrying
// its latest persisted score.
func (p *Publisher) TrendUpdated(t trend.Trend, score float64) error {
	return p.publishTrend("updated", t, score)
}

func (p *Publisher) publishTrend(action string, t trend.Trend, score float64) error {
	data, err := json.Marshal(trendEvent{
		ID:       t.ID,
		Title:    t.Title,
		Score:    score,
		Degraded: t.Degraded,
		Time:     time.Now(),
	})
	if err != nil {
		return fmt.Errorf("error marshaling trend event: %w", err)
	}

	topic := fmt.Sprintf("%s.%s", p.config.EventsTopic, action)
	if err := p.conn.Publish(topic, data); err != nil {
		return fmt.Errorf("error publishing trend event: %w", err)
	}
	return nil
}

type retryEvent struct {
	TrendIDs []string  `json:"trend_ids"`
	Time     time.Time `json:"time"`
}

// RequeueDegraded queues trend IDs for out-of-band description retry.
func (p *Publisher) RequeueDegraded(trendIDs []string) error {
	if len(trendIDs) == 0 {
		return nil
	}

	data, err := json.Marshal(retryEvent{TrendIDs: trendIDs, Time: time.Now()})
	if err != nil {
		return fmt.Errorf("error marshaling retry event: %w", err)
	}
	if err := p.conn.Publish(p.config.RetryTopic, data); err != nil {
		return fmt.Errorf("error publishing retry event: %w", err)
	}
	return nil
}

// DecodeRetryEvent parses a retry subject payload back into trend IDs.
func DecodeRetryEvent(data []byte) ([]string, error) {
	var event retryEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("error decoding retry event: %w", err)
	}
	return event.TrendIDs, nil
}
