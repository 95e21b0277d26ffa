// Package bus provides event bus implementations for Sentify.
package bus

import (
	"errors"
	"fmt"

	"github.com/opensource-finance/sentify/internal/domain"
)

// ErrClosed is returned when publishing to or subscribing on a closed bus.
var ErrClosed = errors.New("bus is closed")

// New creates a new event bus based on configuration.
// For Community tier: returns ChannelBus.
// For Pro tier: returns NATSBus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel", "":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}
