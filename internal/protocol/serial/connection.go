// internal/protocol/serial/connection.go
package serial

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// SupportedBaudRates are the line speeds accepted by the controllers this
// package talks to.
var SupportedBaudRates = []int{9600, 19200, 38400, 57600, 115200}

// portHandle is the subset of serial.Port used by Connection
type portHandle interface {
	SetReadTimeout(timeout time.Duration) error
	ResetInputBuffer() error
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
	Close() error
}

// allow tests to replace the hardware
var openPort = func(name string, mode *serial.Mode) (portHandle, error) {
	return serial.Open(name, mode)
}

// Connection represents a serial port connection
type Connection struct {
	config  *Config
	port    portHandle
	logger  *zap.Logger
	mutex   sync.Mutex
	isOpen  bool
	timeout time.Duration
}

// Config represents serial port configuration. The line is always 8 data
// bits, one stop bit, no parity and no flow control.
type Config struct {
	Port     string        `json:"port"`
	BaudRate int           `json:"baud_rate"`
	Timeout  time.Duration `json:"timeout"`
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	if !slices.Contains(SupportedBaudRates, c.BaudRate) {
		return fmt.Errorf("unsupported baud rate %d, must be one of %v", c.BaudRate, SupportedBaudRates)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

// NewConnection creates a new serial connection
func NewConnection(config *Config, logger *zap.Logger) (*Connection, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid serial configuration: %w", err)
	}

	return &Connection{
		config:  config,
		logger:  logger.With(zap.String("protocol", "serial"), zap.String("port", config.Port)),
		timeout: config.Timeout,
	}, nil
}

// Open opens the serial connection
func (c *Connection) Open() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.isOpen {
		return nil
	}

	mode := &serial.Mode{
		BaudRate: c.config.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := openPort(c.config.Port, mode)
	if err != nil {
		c.logger.Error("Failed to open serial port", zap.Error(err))
		return fmt.Errorf("failed to open serial port %s: %w", c.config.Port, err)
	}

	if err := port.SetReadTimeout(c.timeout); err != nil {
		port.Close()
		return fmt.Errorf("failed to set read timeout: %w", err)
	}

	c.port = port
	c.isOpen = true

	c.logger.Info("Serial port opened",
		zap.Int("baud_rate", c.config.BaudRate),
		zap.Duration("timeout", c.timeout),
	)
	return nil
}

// Close closes the serial connection
func (c *Connection) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.isOpen || c.port == nil {
		return nil
	}

	if err := c.port.Close(); err != nil {
		c.logger.Error("Failed to close serial port", zap.Error(err))
		return fmt.Errorf("failed to close serial port: %w", err)
	}

	c.port = nil
	c.isOpen = false

	c.logger.Info("Serial port closed")
	return nil
}

// Write writes data to the serial port
func (c *Connection) Write(data []byte) (int, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.isOpen {
		return 0, fmt.Errorf("port not open")
	}

	n, err := c.port.Write(data)
	if err != nil {
		c.logger.Error("Failed to write to serial port",
			zap.Error(err),
			zap.Int("bytes_to_write", len(data)),
		)
		return n, fmt.Errorf("failed to write to serial port: %w", err)
	}
	if n != len(data) {
		return n, fmt.Errorf("incomplete write: wrote %d of %d bytes", n, len(data))
	}

	c.logger.Debug("Data written to serial port", zap.Binary("data", data))
	return n, nil
}

// Read reads whatever is available, waiting at most the read timeout.
// A timeout is reported as 0 bytes and a nil error.
func (c *Connection) Read(buffer []byte) (int, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.isOpen {
		return 0, fmt.Errorf("port not open")
	}

	n, err := c.port.Read(buffer)
	if err != nil {
		c.logger.Error("Failed to read from serial port", zap.Error(err))
		return n, fmt.Errorf("failed to read from serial port: %w", err)
	}

	if n > 0 {
		c.logger.Debug("Data read from serial port", zap.Binary("data", buffer[:n]))
	}
	return n, nil
}

// ResetInputBuffer discards data received but not yet read
func (c *Connection) ResetInputBuffer() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.isOpen {
		return fmt.Errorf("port not open")
	}
	if err := c.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("failed to reset input buffer: %w", err)
	}
	return nil
}

// SetReadTimeout changes the read timeout of the open port
func (c *Connection) SetReadTimeout(timeout time.Duration) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.isOpen {
		if err := c.port.SetReadTimeout(timeout); err != nil {
			return fmt.Errorf("failed to set read timeout: %w", err)
		}
	}
	c.timeout = timeout
	return nil
}

// IsOpen returns whether the connection is open
func (c *Connection) IsOpen() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.isOpen
}

// GetConfig returns the connection configuration
func (c *Connection) GetConfig() *Config {
	return c.config
}
