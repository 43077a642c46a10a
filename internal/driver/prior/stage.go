// internal/driver/prior/stage.go
package prior

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"labdevice-service/pkg/driver"
)

const microstepsKey = "MICROSTEPS/MICRON"

// the STAGE block reports travel as e.g. "89 MM"
var stageSizePattern = regexp.MustCompile(`^(\d+) MM$`)

// Axis is one linear axis of a ProScanIII XY stage. Positions are in
// controller microsteps.
type Axis struct {
	name   string
	conn   *Connection
	logger *zap.Logger

	// calibrating serializes FindLimits
	calibrating sync.Mutex

	mu     sync.Mutex
	limits *driver.AxisLimits
}

// NewAxis switches the axis encoder on and its servo off
func NewAxis(conn *Connection, name string, logger *zap.Logger) (*Axis, error) {
	if err := validateAxisName(name); err != nil {
		return nil, err
	}

	if err := conn.EnableEncoder(name, true); err != nil {
		return nil, fmt.Errorf("failed to enable %s encoder: %w", name, err)
	}
	if err := conn.EnableServo(name, false); err != nil {
		return nil, fmt.Errorf("failed to disable %s servo: %w", name, err)
	}

	return &Axis{
		name:   name,
		conn:   conn,
		logger: logger.With(zap.String("axis", name)),
	}, nil
}

// Name returns X or Y
func (a *Axis) Name() string {
	return a.name
}

// MoveBy moves the axis by delta, truncated to whole microsteps
func (a *Axis) MoveBy(delta float64) error {
	if a.name == AxisX {
		return a.conn.GoRelative(int(delta), 0)
	}
	return a.conn.GoRelative(0, int(delta))
}

// MoveTo moves the axis to pos, truncated to whole microsteps
func (a *Axis) MoveTo(pos float64) error {
	if a.name == AxisX {
		return a.conn.GoX(int(pos))
	}
	return a.conn.GoY(int(pos))
}

func (a *Axis) Position() (float64, error) {
	var (
		pos int
		err error
	)
	if a.name == AxisX {
		pos, err = a.conn.AbsoluteXPosition()
	} else {
		pos, err = a.conn.AbsoluteYPosition()
	}
	if err != nil {
		return 0, err
	}
	return float64(pos), nil
}

// Limits returns the travel range found by FindLimits
func (a *Axis) Limits() (driver.AxisLimits, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.limits == nil {
		return driver.AxisLimits{}, fmt.Errorf("%w: limits of axis %s not found, stage must be enabled first", driver.ErrNotReady, a.name)
	}
	return *a.limits, nil
}

// FindLimits drives the axis into both limit switches and back to where it
// started. The controller does not report travel limits, so this is the
// only way to learn them. Once found the limits are kept and later calls
// do not move the stage.
func (a *Axis) FindLimits() (driver.AxisLimits, error) {
	a.calibrating.Lock()
	defer a.calibrating.Unlock()

	if limits, err := a.Limits(); err == nil {
		return limits, nil
	}

	description, err := a.conn.StageDescription()
	if err != nil {
		return driver.AxisLimits{}, fmt.Errorf("failed to read stage description: %w", err)
	}
	travel, err := axisMicrosteps(description, a.name)
	if err != nil {
		return driver.AxisLimits{}, err
	}

	a.logger.Info("Finding axis limits", zap.Int("travel_microsteps", travel))

	// If it fails the stage is left where it stopped; its state is unknown.
	initial, err := a.Position()
	if err != nil {
		return driver.AxisLimits{}, err
	}
	lower, err := a.limit(-1, travel)
	if err != nil {
		return driver.AxisLimits{}, err
	}
	upper, err := a.limit(+1, travel)
	if err != nil {
		return driver.AxisLimits{}, err
	}
	if err := a.MoveTo(initial); err != nil {
		return driver.AxisLimits{}, fmt.Errorf("failed to return axis %s to %g: %w", a.name, initial, err)
	}

	limits := driver.AxisLimits{Lower: lower, Upper: upper}
	a.mu.Lock()
	a.limits = &limits
	a.mu.Unlock()

	a.logger.Info("Axis limits found", zap.Stringer("limits", limits))
	return limits, nil
}

// limit moves twice the estimated travel towards one end, so the switch is
// hit from anywhere on the axis, and returns the position there
func (a *Axis) limit(sign int, travel int) (float64, error) {
	if err := a.MoveBy(math.Copysign(float64(2*travel), float64(sign))); err != nil {
		return 0, err
	}
	active, err := a.conn.IsLimitSwitchActive(a.name, sign)
	if err != nil {
		return 0, err
	}
	if !active {
		return 0, fmt.Errorf("%w: axis %s, direction %+d", ErrLimitNotReached, a.name, sign)
	}
	return a.Position()
}

// axisMicrosteps derives the travel of an axis in microsteps from the
// STAGE description
func axisMicrosteps(description map[string]string, axis string) (int, error) {
	sizeKey := "SIZE_" + axis
	size, ok := description[sizeKey]
	if !ok {
		return 0, fmt.Errorf("%w: stage description has no %s", ErrProtocolViolation, sizeKey)
	}
	match := stageSizePattern.FindStringSubmatch(size)
	if match == nil {
		return 0, fmt.Errorf("%w: failed to parse stage size from %q", ErrProtocolViolation, size)
	}
	millimetres, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, fmt.Errorf("%w: stage size %q: %w", ErrProtocolViolation, size, err)
	}

	steps, err := microstepsPerMicron(description)
	if err != nil {
		return 0, err
	}
	return millimetres * 1000 * steps, nil
}

func microstepsPerMicron(description map[string]string) (int, error) {
	value, ok := description[microstepsKey]
	if !ok {
		return 0, fmt.Errorf("%w: stage description has no %s", ErrProtocolViolation, microstepsKey)
	}
	steps, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q: %w", ErrProtocolViolation, microstepsKey, value, err)
	}
	return steps, nil
}

// Stage is the ProScanIII XY stage. Axes are keyed "x" and "y".
type Stage struct {
	conn   *Connection
	axes   map[string]*Axis
	logger *zap.Logger
}

// NewStage builds both axes of the stage
func NewStage(conn *Connection, logger *zap.Logger) (*Stage, error) {
	s := &Stage{
		conn:   conn,
		axes:   make(map[string]*Axis, 2),
		logger: logger,
	}
	for _, name := range []string{AxisX, AxisY} {
		axis, err := NewAxis(conn, name, logger)
		if err != nil {
			return nil, err
		}
		s.axes[strings.ToLower(name)] = axis
	}
	return s, nil
}

func (s *Stage) Initialize() error { return nil }

// Shutdown leaves the connection open; it belongs to the controller
func (s *Stage) Shutdown() error { return nil }

func (s *Stage) Kind() driver.DeviceKind { return driver.DeviceKindStage }

// Axes returns the stage axes keyed by lowercase name
func (s *Stage) Axes() map[string]driver.StageAxis {
	axes := make(map[string]driver.StageAxis, len(s.axes))
	for name, axis := range s.axes {
		axes[name] = axis
	}
	return axes
}

// Axis returns a single axis by lowercase name
func (s *Stage) Axis(name string) (*Axis, bool) {
	axis, ok := s.axes[name]
	return axis, ok
}

// MoveBy moves one axis, or both axes with a single command
func (s *Stage) MoveBy(delta map[string]float64) error {
	return s.move(delta, (*Axis).MoveBy, s.conn.GoRelative)
}

// MoveTo moves one axis, or both axes with a single command
func (s *Stage) MoveTo(position map[string]float64) error {
	return s.move(position, (*Axis).MoveTo, s.conn.Go)
}

func (s *Stage) move(target map[string]float64, single func(*Axis, float64) error, both func(x, y int) error) error {
	switch len(target) {
	case 1:
		for name, value := range target {
			axis, ok := s.axes[name]
			if !ok {
				return fmt.Errorf("%w: unknown axis %q", driver.ErrInvalidArgument, name)
			}
			return single(axis, value)
		}
	case 2:
		x, hasX := target["x"]
		y, hasY := target["y"]
		if !hasX || !hasY {
			return fmt.Errorf("%w: two-axis moves need x and y", driver.ErrInvalidArgument)
		}
		return both(int(x), int(y))
	}
	return fmt.Errorf("%w: invalid number of axes specified: %d", driver.ErrInvalidArgument, len(target))
}

// Position reads both axes with a single command
func (s *Stage) Position() (map[string]float64, error) {
	x, y, _, err := s.conn.AbsolutePosition()
	if err != nil {
		return nil, err
	}
	return map[string]float64{"x": float64(x), "y": float64(y)}, nil
}

// Limits fails with ErrNotReady until Enable has found every axis' limits
func (s *Stage) Limits() (map[string]driver.AxisLimits, error) {
	limits := make(map[string]driver.AxisLimits, len(s.axes))
	for name, axis := range s.axes {
		l, err := axis.Limits()
		if err != nil {
			return nil, err
		}
		limits[name] = l
	}
	return limits, nil
}

// Enable finds the limits of each axis not yet calibrated. It moves the
// stage to both ends of travel.
func (s *Stage) Enable() error {
	for _, name := range []string{"x", "y"} {
		if _, err := s.axes[name].FindLimits(); err != nil {
			return fmt.Errorf("failed to find limits of axis %s: %w", name, err)
		}
	}
	return nil
}

// MicrostepsPerMicron reads the stage resolution from the STAGE description
func (s *Stage) MicrostepsPerMicron() (int, error) {
	description, err := s.conn.StageDescription()
	if err != nil {
		return 0, err
	}
	return microstepsPerMicron(description)
}

var (
	_ driver.StageAxis = (*Axis)(nil)
	_ driver.Stage     = (*Stage)(nil)
)
