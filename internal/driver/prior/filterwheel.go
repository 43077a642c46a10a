// internal/driver/prior/filterwheel.go
package prior

import (
	"fmt"

	"go.uber.org/zap"

	"labdevice-service/pkg/driver"
)

// FilterWheel is a filter wheel on one of the three filter connectors.
//
// Positions are passed through unchanged. A wheel on the third connector
// (labelled "A AXIS") numbers its positions from the motor home offset, so
// position 1 on connectors 1 and 2 is position 4 there for an 8 position
// wheel.
type FilterWheel struct {
	number    int
	positions int
	conn      *Connection
	logger    *zap.Logger
}

// NewFilterWheel queries the number of positions of the wheel
func NewFilterWheel(conn *Connection, number int, logger *zap.Logger) (*FilterWheel, error) {
	if err := validateWheelNumber(number); err != nil {
		return nil, err
	}

	positions, err := conn.FilterPositions(number)
	if err != nil {
		return nil, fmt.Errorf("failed to read positions of filter wheel %d: %w", number, err)
	}

	return &FilterWheel{
		number:    number,
		positions: positions,
		conn:      conn,
		logger:    logger.With(zap.Int("filter_wheel", number)),
	}, nil
}

func (w *FilterWheel) Initialize() error { return nil }

func (w *FilterWheel) Shutdown() error { return nil }

func (w *FilterWheel) Kind() driver.DeviceKind { return driver.DeviceKindFilterWheel }

// Number returns the connector number, 1 to 3
func (w *FilterWheel) Number() int {
	return w.number
}

// Positions returns the number of filter positions on the wheel
func (w *FilterWheel) Positions() int {
	return w.positions
}

func (w *FilterWheel) Position() (int, error) {
	return w.conn.FilterPosition(w.number)
}

// SetPosition moves the wheel and returns once it has stopped. The
// controller acknowledges out of range positions without moving, so they
// are rejected here.
func (w *FilterWheel) SetPosition(position int) error {
	if position < 1 || position > w.positions {
		return fmt.Errorf("%w: filter position %d, wheel %d has positions 1 to %d",
			driver.ErrInvalidArgument, position, w.number, w.positions)
	}
	w.logger.Debug("Setting filter position", zap.Int("position", position))
	return w.conn.SetFilterPosition(w.number, position)
}

var _ driver.FilterWheel = (*FilterWheel)(nil)
