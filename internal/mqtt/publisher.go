package mqtt

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// Transport is the publish surface the Publisher writes through
type Transport interface {
	Publish(topic string, retained bool, payload []byte) error
}

// Publisher marshals documents to JSON and publishes them
type Publisher struct {
	transport Transport
	logger    *zap.Logger
}

// NewPublisher creates a new Publisher instance
func NewPublisher(transport Transport, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		transport: transport,
		logger:    logger,
	}
}

// PublishJSON publishes v as one JSON message
func (p *Publisher) PublishJSON(topic string, retained bool, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		p.logger.Error("failed to marshal document", zap.String("topic", topic), zap.Error(err))
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	return p.transport.Publish(topic, retained, payload)
}

// PublishText publishes a plain string payload
func (p *Publisher) PublishText(topic string, retained bool, text string) error {
	return p.transport.Publish(topic, retained, []byte(text))
}
