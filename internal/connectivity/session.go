package connectivity

import (
	"go.uber.org/zap"

	"airsense/internal/mqtt"
)

// Session is the pub/sub connection. mqtt.Client implements it.
type Session interface {
	// Connect starts connecting and returns without waiting.
	Connect() error
	Disconnect()
	IsConnected() bool
	// Publish sends to a topic relative to the session prefix.
	Publish(topic string, retained bool, payload []byte) error
	// PublishRaw sends to an absolute topic.
	PublishRaw(topic string, retained bool, payload []byte) error
}

// SessionFactory builds a session for cfg reporting to h.
type SessionFactory func(cfg mqtt.Config, h mqtt.Handlers) (Session, error)

// MQTTSessions builds paho backed sessions.
func MQTTSessions(logger *zap.Logger) SessionFactory {
	return func(cfg mqtt.Config, h mqtt.Handlers) (Session, error) {
		return mqtt.New(cfg, h, logger)
	}
}
