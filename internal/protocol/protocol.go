// internal/protocol/protocol.go
package protocol

import (
	"sync"
	"time"
)

// Transport is a half-duplex byte channel to a device. It is not safe for
// concurrent use; a single owner serializes access.
type Transport interface {
	Write(p []byte) (int, error)

	// Read returns whatever arrived within the read timeout. A timeout is
	// reported as 0 bytes and a nil error.
	Read(p []byte) (int, error)

	// ResetInputBuffer discards data received but not yet read
	ResetInputBuffer() error

	SetReadTimeout(timeout time.Duration) error
	Close() error
}

// TransportStats provides transport-level statistics
type TransportStats struct {
	BytesWritten int64     `json:"bytes_written"`
	BytesRead    int64     `json:"bytes_read"`
	WriteCount   int64     `json:"write_count"`
	ReadTimeouts int64     `json:"read_timeouts"`
	ErrorCount   int64     `json:"error_count"`
	InputResets  int64     `json:"input_resets"`
	LastActivity time.Time `json:"last_activity"`
	IsOpen       bool      `json:"is_open"`
}

// MeteredTransport counts the traffic going through a Transport
type MeteredTransport struct {
	Transport

	mutex sync.Mutex
	stats TransportStats
}

// NewMeteredTransport wraps t
func NewMeteredTransport(t Transport) *MeteredTransport {
	return &MeteredTransport{
		Transport: t,
		stats:     TransportStats{IsOpen: true},
	}
}

func (m *MeteredTransport) Write(p []byte) (int, error) {
	n, err := m.Transport.Write(p)

	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.stats.BytesWritten += int64(n)
	m.stats.WriteCount++
	m.stats.LastActivity = time.Now()
	if err != nil {
		m.stats.ErrorCount++
	}
	return n, err
}

func (m *MeteredTransport) Read(p []byte) (int, error) {
	n, err := m.Transport.Read(p)

	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.stats.BytesRead += int64(n)
	switch {
	case err != nil:
		m.stats.ErrorCount++
	case n == 0:
		m.stats.ReadTimeouts++
	default:
		m.stats.LastActivity = time.Now()
	}
	return n, err
}

func (m *MeteredTransport) ResetInputBuffer() error {
	m.mutex.Lock()
	m.stats.InputResets++
	m.mutex.Unlock()

	return m.Transport.ResetInputBuffer()
}

func (m *MeteredTransport) Close() error {
	m.mutex.Lock()
	m.stats.IsOpen = false
	m.mutex.Unlock()

	return m.Transport.Close()
}

// Stats returns a snapshot of the counters
func (m *MeteredTransport) Stats() TransportStats {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.stats
}
