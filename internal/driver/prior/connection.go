// internal/driver/prior/connection.go
package prior

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"labdevice-service/internal/protocol"
)

const (
	DefaultTimeout           = 500 * time.Millisecond
	DefaultMoveTimeoutFactor = 10
	DefaultDescriptionReads  = 4

	// maxDescriptionSize bounds a description block from a device that
	// never stops talking
	maxDescriptionSize = 64 * 1024
)

var (
	terminator      = []byte("\r")
	descriptionEnd  = []byte("\rEND\r")
	setAcknowledge  = []byte("0\r")
	moveAcknowledge = []byte("R\r")
	identifyCommand = []byte("?")
	identifyHeader  = []byte("PROSCAN INFORMATION\r")
	absentMarker    = []byte("NONE\r")
)

// ConnectionConfig holds the protocol engine settings
type ConnectionConfig struct {
	// Port names the line in errors and logs
	Port string `json:"port"`

	// Timeout is the default read timeout
	Timeout time.Duration `json:"timeout"`

	// MoveTimeoutFactor multiplies Timeout while waiting for the end of a move
	MoveTimeoutFactor int `json:"move_timeout_factor"`

	// DescriptionReads is how many read timeouts a description block may
	// take before it is considered truncated
	DescriptionReads int `json:"description_reads"`
}

func (c ConnectionConfig) withDefaults() ConnectionConfig {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MoveTimeoutFactor <= 0 {
		c.MoveTimeoutFactor = DefaultMoveTimeoutFactor
	}
	if c.DescriptionReads <= 0 {
		c.DescriptionReads = DefaultDescriptionReads
	}
	return c
}

// Connection is the command/response engine for one ProScanIII serial line.
// Every exchange holds mu from the first byte written to the last byte read,
// so devices sharing the line never interleave on the wire.
type Connection struct {
	transport protocol.Transport
	config    ConnectionConfig
	logger    *zap.Logger

	mu      sync.Mutex
	timeout time.Duration
}

// NewConnection takes ownership of transport and identifies the controller.
// The transport is not closed if identification fails.
func NewConnection(transport protocol.Transport, config ConnectionConfig, logger *zap.Logger) (*Connection, error) {
	config = config.withDefaults()

	c := &Connection{
		transport: transport,
		config:    config,
		logger:    logger.With(zap.String("component", "proscan"), zap.String("port", config.Port)),
		timeout:   config.Timeout,
	}

	if err := transport.SetReadTimeout(config.Timeout); err != nil {
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	if err := c.handshake(); err != nil {
		return nil, err
	}

	c.logger.Info("ProScanIII identified")
	return c, nil
}

// handshake cannot use GetDescription: a device that is not a ProScan
// would never send the end marker
func (c *Connection) handshake() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.command(identifyCommand); err != nil {
		return err
	}
	answer, err := c.readline()
	if err != nil {
		return err
	}
	if !bytes.Equal(answer, identifyHeader) {
		if derr := c.readUntilTimeoutLocked(); derr != nil {
			c.logger.Warn("Failed to drain input after handshake mismatch", zap.Error(derr))
		}
		return fmt.Errorf("%w: no ProScanIII on port %s, %q returned %q",
			ErrHandshakeMismatch, c.config.Port, identifyCommand, answer)
	}

	// the header line is the start of the block
	if _, err := c.readDescription(answer); err != nil {
		return fmt.Errorf("failed to read identification block: %w", err)
	}
	return nil
}

// command sends cmd with its terminator. Callers hold mu.
func (c *Connection) command(cmd []byte) error {
	frame := make([]byte, 0, len(cmd)+1)
	frame = append(frame, cmd...)
	frame = append(frame, terminator...)

	c.logger.Debug("Sending command", zap.ByteString("command", cmd))
	if _, err := c.transport.Write(frame); err != nil {
		return fmt.Errorf("failed to send %q: %w", cmd, err)
	}
	return nil
}

// readline reads up to and including the next terminator. On timeout it
// returns whatever arrived, possibly nothing. Callers hold mu.
func (c *Connection) readline() ([]byte, error) {
	var line []byte
	buf := make([]byte, 1)
	deadline := time.Now().Add(c.timeout)

	for {
		n, err := c.transport.Read(buf)
		if err != nil {
			return line, fmt.Errorf("failed to read reply: %w", err)
		}
		if n == 0 {
			return line, nil
		}
		line = append(line, buf[0])
		if buf[0] == terminator[0] || time.Now().After(deadline) {
			return line, nil
		}
	}
}

// readDescription appends reads to block until it contains the end
// marker. Callers hold mu.
func (c *Connection) readDescription(block []byte) ([]byte, error) {
	buf := make([]byte, 256)

	for timeouts := 0; timeouts < c.config.DescriptionReads; {
		n, err := c.transport.Read(buf)
		if err != nil {
			return block, fmt.Errorf("failed to read description: %w", err)
		}
		if n == 0 {
			timeouts++
			continue
		}
		block = append(block, buf[:n]...)

		if i := bytes.Index(block, descriptionEnd); i >= 0 {
			end := i + len(descriptionEnd)
			if end < len(block) {
				c.logger.Warn("Discarding bytes after description block",
					zap.ByteString("extra", block[end:]))
			}
			return block[:end], nil
		}
		if len(block) > maxDescriptionSize {
			break
		}
	}

	return block, fmt.Errorf("%w: %d bytes without end marker", ErrDescriptionTruncated, len(block))
}

// readUntilTimeoutLocked discards the input buffer, then consumes lines
// until a read times out
func (c *Connection) readUntilTimeoutLocked() error {
	if err := c.transport.ResetInputBuffer(); err != nil {
		return fmt.Errorf("failed to reset input buffer: %w", err)
	}
	for {
		line, err := c.readline()
		if err != nil {
			return err
		}
		if len(line) == 0 {
			return nil
		}
		c.logger.Warn("Discarded stale input", zap.ByteString("line", line))
	}
}

func (c *Connection) getCommandLocked(cmd []byte) ([]byte, error) {
	if err := c.command(cmd); err != nil {
		return nil, err
	}
	return c.readline()
}

// commandAndValidateLocked drains the line and fails when the reply is not
// exactly expected. The command is never repeated.
func (c *Connection) commandAndValidateLocked(cmd, expected []byte) error {
	answer, err := c.getCommandLocked(cmd)
	if err != nil {
		return err
	}
	if bytes.Equal(answer, expected) {
		return nil
	}

	c.logger.Warn("Unexpected reply, draining input",
		zap.ByteString("command", cmd),
		zap.ByteString("expected", expected),
		zap.ByteString("reply", answer),
	)
	if derr := c.readUntilTimeoutLocked(); derr != nil {
		c.logger.Warn("Failed to drain input", zap.Error(derr))
	}

	cause := ErrProtocolViolation
	if len(answer) == 0 || !bytes.HasSuffix(answer, terminator) {
		cause = fmt.Errorf("%w: %w", ErrProtocolViolation, ErrNoReply)
	}
	return &CommandError{Command: cmd, Reply: answer, Err: cause}
}

func (c *Connection) moveCommandLocked(cmd []byte) error {
	moveTimeout := time.Duration(c.config.MoveTimeoutFactor) * c.timeout
	return c.changedTimeoutLocked(moveTimeout, func() error {
		return c.commandAndValidateLocked(cmd, moveAcknowledge)
	})
}

func (c *Connection) getDescriptionLocked(cmd []byte) ([]byte, error) {
	if err := c.command(cmd); err != nil {
		return nil, err
	}
	return c.readDescription(nil)
}

// changedTimeoutLocked runs fn with the read timeout set to d and restores
// the previous timeout on every exit path, panics included
func (c *Connection) changedTimeoutLocked(d time.Duration, fn func() error) (err error) {
	previous := c.timeout
	if err := c.transport.SetReadTimeout(d); err != nil {
		return fmt.Errorf("failed to set read timeout: %w", err)
	}
	c.timeout = d

	defer func() {
		c.timeout = previous
		if rerr := c.transport.SetReadTimeout(previous); rerr != nil {
			c.logger.Error("Failed to restore read timeout", zap.Error(rerr))
			if err == nil {
				err = fmt.Errorf("failed to restore read timeout: %w", rerr)
			}
		}
	}()

	return fn()
}

// hasThingLocked checks the prefix even on a block that never reached its
// end marker. Only a partial block that still matches the prefix is
// reported as truncated.
func (c *Connection) hasThingLocked(query, prefix []byte) (bool, error) {
	description, err := c.getDescriptionLocked(query)
	truncated := errors.Is(err, ErrDescriptionTruncated)
	if err != nil && !truncated {
		return false, err
	}

	matches := bytes.HasPrefix(description, prefix)
	if truncated && len(description) > 0 && bytes.HasPrefix(prefix, description) {
		matches = true
	}
	if !matches {
		c.logger.Warn("Unexpected description, draining input",
			zap.ByteString("command", query),
			zap.ByteString("description", description),
		)
		if derr := c.readUntilTimeoutLocked(); derr != nil {
			c.logger.Warn("Failed to drain input", zap.Error(derr))
		}
		cause := ErrProtocolViolation
		if len(description) == 0 {
			cause = fmt.Errorf("%w: %w", ErrProtocolViolation, ErrNoReply)
		}
		return false, &CommandError{Command: query, Reply: description, Err: cause}
	}
	if truncated {
		return false, err
	}

	absent := append(append([]byte{}, prefix...), absentMarker...)
	return !bytes.HasPrefix(description, absent), nil
}

// GetCommand sends a query and returns the reply line
func (c *Connection) GetCommand(cmd []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getCommandLocked(cmd)
}

// SetCommand sends a property command. The controller acknowledges with 0
// even when it ignores invalid arguments.
func (c *Connection) SetCommand(cmd []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commandAndValidateLocked(cmd, setAcknowledge)
}

// MoveCommand sends a motion command and waits for the end-of-move reply
// under the extended move timeout
func (c *Connection) MoveCommand(cmd []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.moveCommandLocked(cmd)
}

// GetDescription sends cmd and returns the reply block including its end
// marker
func (c *Connection) GetDescription(cmd []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getDescriptionLocked(cmd)
}

// ReadUntilTimeout resynchronizes the line after an unexpected reply
func (c *Connection) ReadUntilTimeout() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readUntilTimeoutLocked()
}

// HasThing probes a description command. A reply that does not start with
// prefix is a protocol violation; prefix followed by NONE means absent.
func (c *Connection) HasThing(query, prefix []byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasThingLocked(query, prefix)
}

// ChangedTimeout runs fn as one atomic sequence with the read timeout set
// to d. fn must use the Session it is given; calling Connection methods
// from fn deadlocks.
func (c *Connection) ChangedTimeout(d time.Duration, fn func(s *Session) error) error {
	return c.Do(func(s *Session) error {
		return s.ChangedTimeout(d, func() error { return fn(s) })
	})
}

// Do runs fn while holding the line, so no other exchange can come
// between the steps of fn
func (c *Connection) Do(fn func(s *Session) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fn(&Session{c: c})
}

// Timeout returns the current read timeout
func (c *Connection) Timeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeout
}

// Port returns the port name the connection was configured with
func (c *Connection) Port() string {
	return c.config.Port
}

// Close closes the transport
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.transport.Close(); err != nil {
		return fmt.Errorf("failed to close transport: %w", err)
	}
	c.logger.Info("Connection closed")
	return nil
}

// Session is the view of a Connection inside Do. It is only valid until
// the function it was passed to returns.
type Session struct {
	c *Connection
}

func (s *Session) GetCommand(cmd []byte) ([]byte, error) {
	return s.c.getCommandLocked(cmd)
}

func (s *Session) SetCommand(cmd []byte) error {
	return s.c.commandAndValidateLocked(cmd, setAcknowledge)
}

func (s *Session) MoveCommand(cmd []byte) error {
	return s.c.moveCommandLocked(cmd)
}

func (s *Session) GetDescription(cmd []byte) ([]byte, error) {
	return s.c.getDescriptionLocked(cmd)
}

func (s *Session) HasThing(probe, prefix []byte) (bool, error) {
	return s.c.hasThingLocked(probe, prefix)
}

func (s *Session) ReadUntilTimeout() error {
	return s.c.readUntilTimeoutLocked()
}

// ChangedTimeout runs fn with the read timeout set to d, restoring the
// previous value however fn exits
func (s *Session) ChangedTimeout(d time.Duration, fn func() error) error {
	return s.c.changedTimeoutLocked(d, fn)
}

// Timeout returns the read timeout in effect for the session
func (s *Session) Timeout() time.Duration {
	return s.c.timeout
}
