// internal/protocol/connection.go
package protocol

import (
	"time"

	"labdevice-service/internal/model"
)

// TransportConfig describes how to reach a controller
type TransportConfig struct {
	Type     model.ConnectionType `json:"type"`
	Port     string               `json:"port,omitempty"`
	BaudRate int                  `json:"baud_rate,omitempty"`
	Host     string               `json:"host,omitempty"`
	TCPPort  int                  `json:"tcp_port,omitempty"`
	Timeout  time.Duration        `json:"timeout"`
}

// TCPConfig represents a serial-over-TCP bridge connection
type TCPConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	KeepAlive    bool          `json:"keep_alive"`
	Timeout      time.Duration `json:"timeout"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}
