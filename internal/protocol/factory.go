// internal/protocol/factory.go
package protocol

import (
	"fmt"

	"go.uber.org/zap"

	"labdevice-service/internal/model"
	"labdevice-service/internal/protocol/serial"
)

// CreateTransport opens a transport based on connection type and configuration
func CreateTransport(config *TransportConfig, logger *zap.Logger) (*MeteredTransport, error) {
	switch config.Type {
	case model.ConnectionTypeSerial:
		return createSerialTransport(config, logger)
	case model.ConnectionTypeTCP:
		return createTCPTransport(config, logger)
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", config.Type)
	}
}

// createSerialTransport opens a serial port
func createSerialTransport(config *TransportConfig, logger *zap.Logger) (*MeteredTransport, error) {
	conn, err := serial.NewConnection(&serial.Config{
		Port:     config.Port,
		BaudRate: config.BaudRate,
		Timeout:  config.Timeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := conn.Open(); err != nil {
		return nil, err
	}

	return NewMeteredTransport(conn), nil
}

// createTCPTransport connects to a serial device server
func createTCPTransport(config *TransportConfig, logger *zap.Logger) (*MeteredTransport, error) {
	if config.Host == "" {
		return nil, fmt.Errorf("tcp host is required")
	}
	if config.TCPPort <= 0 || config.TCPPort > 65535 {
		return nil, fmt.Errorf("invalid tcp port: %d", config.TCPPort)
	}

	conn := NewTCPConnection(&TCPConfig{
		Host:        config.Host,
		Port:        config.TCPPort,
		KeepAlive:   true,
		Timeout:     10 * config.Timeout,
		ReadTimeout: config.Timeout,
	}, logger)

	if err := conn.Open(); err != nil {
		return nil, err
	}

	return NewMeteredTransport(conn), nil
}
