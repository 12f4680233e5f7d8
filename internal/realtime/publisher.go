package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"rental-service/internal/util"

	"go.uber.org/zap"
)

// Broadcaster sends raw payloads on a pub/sub channel
type Broadcaster interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Publisher wraps event data in an Envelope and broadcasts it to every hub
type Publisher struct {
	broadcaster Broadcaster
	logger      *zap.Logger
}

// NewPublisher creates a new realtime publisher
func NewPublisher(broadcaster Broadcaster) *Publisher {
	return &Publisher{broadcaster: broadcaster, logger: util.GetLogger()}
}

// Publish sends an event on a channel
func (p *Publisher) Publish(ctx context.Context, channel, event string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal realtime data: %w", err)
	}

	payload, err := json.Marshal(Envelope{
		Channel: channel,
		Event:   event,
		Data:    raw,
		SentAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	if err := p.broadcaster.Publish(ctx, redisPrefix+channel, payload); err != nil {
		util.RealtimePublishedTotal.WithLabelValues(event, "error").Inc()
		p.logger.Warn("Realtime publish failed",
			zap.String("channel", channel),
			zap.String("event", event),
			zap.Error(err))
		return err
	}

	util.RealtimePublishedTotal.WithLabelValues(event, "ok").Inc()
	return nil
}
