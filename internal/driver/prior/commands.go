// internal/driver/prior/commands.go
package prior

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"labdevice-service/pkg/driver"
)

// Axis names accepted by the controller's per-axis commands
const (
	AxisX = "X"
	AxisY = "Y"
)

const maxFilterWheels = 3

// limitSwitchBits is the bit offset of each axis' positive switch in the
// LMT reply. The negative switch is the next bit up.
var limitSwitchBits = map[string]uint{
	AxisX: 0,
	AxisY: 2,
	"Z":   4,
	"4th": 6,
}

func validateWheelNumber(number int) error {
	if number < 1 || number > maxFilterWheels {
		return fmt.Errorf("%w: filter wheel %d, must be 1 to %d", driver.ErrInvalidAddress, number, maxFilterWheels)
	}
	return nil
}

func validateAxisName(name string) error {
	if name != AxisX && name != AxisY {
		return fmt.Errorf("%w: axis %q, must be X or Y", driver.ErrInvalidAddress, name)
	}
	return nil
}

// parseReply parses a reply line with parse, draining and failing on a
// reply that does not parse. Callers hold mu.
func parseReply[T any](c *Connection, cmd []byte, parse func(string) (T, error)) (T, error) {
	var zero T

	answer, err := c.getCommandLocked(cmd)
	if err != nil {
		return zero, err
	}

	value, perr := parse(strings.TrimSuffix(string(answer), "\r"))
	if perr != nil || !bytes.HasSuffix(answer, terminator) {
		if derr := c.readUntilTimeoutLocked(); derr != nil {
			c.logger.Warn("Failed to drain input", zap.Error(derr))
		}
		cause := fmt.Errorf("%w: %w", ErrProtocolViolation, ErrNoReply)
		if perr != nil {
			cause = fmt.Errorf("%w: %w", ErrProtocolViolation, perr)
		}
		return zero, &CommandError{Command: cmd, Reply: answer, Err: cause}
	}
	return value, nil
}

func (c *Connection) getInt(cmd []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return parseReply(c, cmd, strconv.Atoi)
}

// HasFilterWheel probes the FILTER connector. FILTER is used rather than
// the ? block because the third connector can drive things that are not
// filter wheels.
func (c *Connection) HasFilterWheel(number int) (bool, error) {
	if err := validateWheelNumber(number); err != nil {
		return false, err
	}
	return c.HasThing(
		fmt.Appendf(nil, "FILTER %d", number),
		fmt.Appendf(nil, "FILTER_%d = ", number),
	)
}

// HasStage probes for an XY stage
func (c *Connection) HasStage() (bool, error) {
	return c.HasThing([]byte("STAGE"), []byte("STAGE = "))
}

// FilterPositions returns the number of positions of a filter wheel
func (c *Connection) FilterPositions(number int) (int, error) {
	if err := validateWheelNumber(number); err != nil {
		return 0, err
	}
	return c.getInt(fmt.Appendf(nil, "FPW %d", number))
}

// FilterPosition returns the current position of a filter wheel
func (c *Connection) FilterPosition(number int) (int, error) {
	if err := validateWheelNumber(number); err != nil {
		return 0, err
	}
	return c.getInt(fmt.Appendf(nil, "7 %d F", number))
}

// SetFilterPosition moves a filter wheel and waits for it to stop
func (c *Connection) SetFilterPosition(number, position int) error {
	if err := validateWheelNumber(number); err != nil {
		return err
	}
	return c.MoveCommand(fmt.Appendf(nil, "7 %d %d", number, position))
}

// GoRelative moves the stage by x, y microsteps
func (c *Connection) GoRelative(x, y int) error {
	return c.MoveCommand(fmt.Appendf(nil, "GR %d %d 0", x, y))
}

// Go moves the stage to x, y
func (c *Connection) Go(x, y int) error {
	return c.MoveCommand(fmt.Appendf(nil, "G %d %d 0", x, y))
}

func (c *Connection) GoX(position int) error {
	return c.MoveCommand(fmt.Appendf(nil, "GX %d", position))
}

func (c *Connection) GoY(position int) error {
	return c.MoveCommand(fmt.Appendf(nil, "GY %d", position))
}

// AbsolutePosition returns the x, y, z position in one exchange. The
// controller reports z even when no focus drive is fitted.
func (c *Connection) AbsolutePosition() (x, y, z int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pos, err := parseReply(c, []byte("P"), func(s string) ([3]int, error) {
		var out [3]int
		fields := strings.Split(s, ",")
		if len(fields) != 3 {
			return out, fmt.Errorf("expected 3 positions, got %d", len(fields))
		}
		for i, f := range fields {
			v, err := strconv.Atoi(strings.TrimSpace(f))
			if err != nil {
				return out, err
			}
			out[i] = v
		}
		return out, nil
	})
	if err != nil {
		return 0, 0, 0, err
	}
	return pos[0], pos[1], pos[2], nil
}

func (c *Connection) AbsoluteXPosition() (int, error) {
	return c.getInt([]byte("PX"))
}

func (c *Connection) AbsoluteYPosition() (int, error) {
	return c.getInt([]byte("PY"))
}

func (c *Connection) enableCommand(command, axis string, on bool) error {
	if err := validateAxisName(axis); err != nil {
		return err
	}
	mode := 0
	if on {
		mode = 1
	}
	return c.SetCommand(fmt.Appendf(nil, "%s %s %d", command, axis, mode))
}

// EnableEncoder switches the encoder of an axis on or off
func (c *Connection) EnableEncoder(axis string, on bool) error {
	return c.enableCommand("ENCODER", axis, on)
}

// EnableServo switches the servo of an axis on or off
func (c *Connection) EnableServo(axis string, on bool) error {
	return c.enableCommand("SERVO", axis, on)
}

// IsLimitSwitchActive reports whether the limit switch at the positive
// (sign +1) or negative (sign -1) end of axis is in contact
func (c *Connection) IsLimitSwitchActive(axis string, sign int) (bool, error) {
	if sign != 1 && sign != -1 {
		return false, fmt.Errorf("%w: sign must be -1 or +1, got %d", driver.ErrInvalidArgument, sign)
	}
	bit, ok := limitSwitchBits[axis]
	if !ok {
		return false, fmt.Errorf("%w: no limit switches for axis %q", driver.ErrInvalidAddress, axis)
	}
	if sign == -1 {
		bit++
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	bitmap, err := parseReply(c, []byte("LMT"), func(s string) (uint64, error) {
		return strconv.ParseUint(s, 16, 8)
	})
	if err != nil {
		return false, err
	}
	return bitmap&(1<<bit) != 0, nil
}

// StageDescription returns the STAGE block as key = value pairs
func (c *Connection) StageDescription() (map[string]string, error) {
	block, err := c.GetDescription([]byte("STAGE"))
	if err != nil {
		return nil, err
	}
	return parseDescription(block)
}

func parseDescription(block []byte) (map[string]string, error) {
	description := make(map[string]string)
	for _, line := range strings.Split(string(block), "\r") {
		if line == "" {
			continue
		}
		if line == "END" {
			break
		}
		key, value, ok := strings.Cut(line, " = ")
		if !ok {
			return nil, fmt.Errorf("%w: malformed description line %q", ErrProtocolViolation, line)
		}
		description[key] = value
	}
	return description, nil
}
