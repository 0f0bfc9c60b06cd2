package eventbus

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	// StreamName holds every orchestration lifecycle event.
	StreamName = "GENERATION"
	// SubjectTransitions receives one event per state transition.
	SubjectTransitions = "generation.transitions"
)

// Bus publishes orchestration events to NATS JetStream. Publishing is
// best-effort: a broker outage must never fail the request that emitted the
// event.
type Bus struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	logger *zap.Logger
}

// Connect dials NATS and ensures the generation stream exists
func Connect(url string, logger *zap.Logger) (*Bus, error) {
	nc, err := nats.Connect(url,
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(3),
	)
	if err != nil {
		return nil, err
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}

	// AddStream is idempotent when the config matches.
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{"generation.>"},
		MaxAge:   7 * 24 * time.Hour,
	})
	if err != nil {
		nc.Close()
		return nil, err
	}

	return &Bus{nc: nc, js: js, logger: logger}, nil
}

// Publish marshals the payload and publishes it asynchronously. Errors are
// logged, never returned.
func (b *Bus) Publish(subject string, payload any) {
	if b == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Warn("failed to marshal event", zap.String("subject", subject), zap.Error(err))
		return
	}
	if _, err := b.js.PublishAsync(subject, data); err != nil {
		b.logger.Warn("failed to publish event", zap.String("subject", subject), zap.Error(err))
	}
}

// Close drains the connection
func (b *Bus) Close() {
	if b == nil || b.nc == nil {
		return
	}
	b.nc.Close()
}
