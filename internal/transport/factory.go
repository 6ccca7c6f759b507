package transport

import (
	"fmt"

	"tgdrive/internal/config"
	"tgdrive/internal/drive"
)

// NewTransportFromConfig creates a Transport implementation based on the transport config type.
func NewTransportFromConfig(cfg config.TransportConfig) (drive.Transport, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryTransport(), nil
	default:
		return nil, fmt.Errorf("unknown transport type: %s", cfg.Type)
	}
}
