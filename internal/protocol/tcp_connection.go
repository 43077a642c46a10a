// internal/protocol/tcp_connection.go
package protocol

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// drainWindow is how long ResetInputBuffer waits for bytes already in flight
const drainWindow = 5 * time.Millisecond

// TCPConnection implements Transport for serial device servers that expose
// a raw serial line over TCP
type TCPConnection struct {
	config      *TCPConfig
	conn        net.Conn
	logger      *zap.Logger
	mutex       sync.Mutex
	isOpen      bool
	readTimeout time.Duration
}

// NewTCPConnection creates a new TCP connection
func NewTCPConnection(config *TCPConfig, logger *zap.Logger) *TCPConnection {
	return &TCPConnection{
		config: config,
		logger: logger.With(
			zap.String("protocol", "tcp"),
			zap.String("host", config.Host),
			zap.Int("port", config.Port),
		),
		readTimeout: config.ReadTimeout,
	}
}

// Open opens the TCP connection
func (tc *TCPConnection) Open() error {
	tc.mutex.Lock()
	defer tc.mutex.Unlock()

	if tc.isOpen {
		return nil
	}

	tc.logger.Info("Opening TCP connection")

	dialer := &net.Dialer{
		Timeout:   tc.config.Timeout,
		KeepAlive: 30 * time.Second,
	}

	address := net.JoinHostPort(tc.config.Host, fmt.Sprint(tc.config.Port))
	conn, err := dialer.Dial("tcp", address)
	if err != nil {
		tc.logger.Error("Failed to open TCP connection", zap.Error(err))
		return fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok && tc.config.KeepAlive {
		tcpConn.SetKeepAlive(true)
		tcpConn.SetKeepAlivePeriod(30 * time.Second)
	}

	tc.conn = conn
	tc.isOpen = true

	tc.logger.Info("TCP connection opened successfully")
	return nil
}

// Close closes the TCP connection
func (tc *TCPConnection) Close() error {
	tc.mutex.Lock()
	defer tc.mutex.Unlock()

	if !tc.isOpen || tc.conn == nil {
		return nil
	}

	if err := tc.conn.Close(); err != nil {
		tc.logger.Error("Failed to close TCP connection", zap.Error(err))
		return fmt.Errorf("failed to close TCP connection: %w", err)
	}

	tc.conn = nil
	tc.isOpen = false

	tc.logger.Info("TCP connection closed successfully")
	return nil
}

// IsOpen returns whether the connection is open
func (tc *TCPConnection) IsOpen() bool {
	tc.mutex.Lock()
	defer tc.mutex.Unlock()
	return tc.isOpen && tc.conn != nil
}

// Write writes data to the TCP connection
func (tc *TCPConnection) Write(data []byte) (int, error) {
	tc.mutex.Lock()
	defer tc.mutex.Unlock()

	if !tc.isOpen || tc.conn == nil {
		return 0, fmt.Errorf("TCP connection not open")
	}

	if tc.config.WriteTimeout > 0 {
		tc.conn.SetWriteDeadline(time.Now().Add(tc.config.WriteTimeout))
	}

	n, err := tc.conn.Write(data)
	if err != nil {
		tc.logger.Error("TCP write failed", zap.Error(err))
		return n, fmt.Errorf("failed to write to TCP connection: %w", err)
	}

	tc.logger.Debug("TCP write completed", zap.Binary("data", data))
	return n, nil
}

// Read reads data from the TCP connection. A deadline expiry is reported
// the same way a serial read timeout is: 0 bytes, nil error.
func (tc *TCPConnection) Read(buffer []byte) (int, error) {
	tc.mutex.Lock()
	defer tc.mutex.Unlock()

	if !tc.isOpen || tc.conn == nil {
		return 0, fmt.Errorf("TCP connection not open")
	}

	return tc.readWithin(buffer, tc.readTimeout)
}

func (tc *TCPConnection) readWithin(buffer []byte, timeout time.Duration) (int, error) {
	tc.conn.SetReadDeadline(time.Now().Add(timeout))

	n, err := tc.conn.Read(buffer)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return n, nil
		}
		tc.logger.Error("TCP read failed", zap.Error(err))
		return n, fmt.Errorf("failed to read from TCP connection: %w", err)
	}

	tc.logger.Debug("TCP read completed", zap.Binary("data", buffer[:n]))
	return n, nil
}

// ResetInputBuffer discards bytes that already reached the socket
func (tc *TCPConnection) ResetInputBuffer() error {
	tc.mutex.Lock()
	defer tc.mutex.Unlock()

	if !tc.isOpen || tc.conn == nil {
		return fmt.Errorf("TCP connection not open")
	}

	buffer := make([]byte, 256)
	for {
		n, err := tc.readWithin(buffer, drainWindow)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

// SetReadTimeout changes the per-read timeout
func (tc *TCPConnection) SetReadTimeout(timeout time.Duration) error {
	tc.mutex.Lock()
	defer tc.mutex.Unlock()
	tc.readTimeout = timeout
	return nil
}
