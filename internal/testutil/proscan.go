// internal/testutil/proscan.go
package testutil

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// ProScanIdentity is the reply to the ? command
const ProScanIdentity = "PROSCAN INFORMATION\r" +
	"DSP_1 IS 4-AXIS STAGE CARD\r" +
	"DRIVE CHIP IS L6470\r" +
	"JOYSTICK ACTIVE\r" +
	"END\r"

// StageDescription is the reply to STAGE for a 108 x 71 mm stage
const StageDescription = "STAGE = H117/7\r" +
	"TYPE = 2\r" +
	"SIZE_X = 108 MM\r" +
	"SIZE_Y = 71 MM\r" +
	"MICROSTEPS/MICRON = 25\r" +
	"END\r"

// ProScanSim simulates a ProScanIII with an XY stage and filter wheels.
// Moves complete immediately. Limit switches close when the stage is
// driven beyond its travel.
type ProScanSim struct {
	mu        sync.Mutex
	wheels    map[int]int // number -> positions
	filters   map[int]int // number -> current position
	hasStage  bool
	x, y      int
	travelX   int
	travelY   int
	limitBits uint8

	// Override lets a test answer a command itself; nil falls through
	Override Responder
}

// NewProScanSim creates a controller with a stage and the given wheels,
// each with 6 positions
func NewProScanSim(stage bool, wheels ...int) *ProScanSim {
	s := &ProScanSim{
		wheels:   make(map[int]int),
		filters:  make(map[int]int),
		hasStage: stage,
		travelX:  108 * 1000 * 25,
		travelY:  71 * 1000 * 25,
	}
	for _, w := range wheels {
		s.wheels[w] = 6
		s.filters[w] = 1
	}
	return s
}

// SetPosition places the stage without a move command
func (s *ProScanSim) SetPosition(x, y int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.x, s.y = x, y
}

// Position returns the simulated stage position
func (s *ProScanSim) Position() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.x, s.y
}

// Responder answers commands from the simulated state
func (s *ProScanSim) Responder() Responder {
	return func(cmd string) []Reply {
		if s.Override != nil {
			if replies := s.Override(cmd); replies != nil {
				return replies
			}
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		return []Reply{{Data: s.answer(cmd)}}
	}
}

func (s *ProScanSim) answer(cmd string) string {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return "E,4\r"
	}
	args := make([]int, 0, len(fields)-1)
	for _, f := range fields[1:] {
		if v, err := strconv.Atoi(f); err == nil {
			args = append(args, v)
		}
	}

	switch fields[0] {
	case "?":
		return ProScanIdentity
	case "STAGE":
		if !s.hasStage {
			return "STAGE = NONE\rEND\r"
		}
		return StageDescription
	case "FILTER":
		if len(args) != 1 {
			return "E,4\r"
		}
		if _, ok := s.wheels[args[0]]; !ok {
			return fmt.Sprintf("FILTER_%d = NONE\rEND\r", args[0])
		}
		return fmt.Sprintf("FILTER_%d = HF110-10\rEND\r", args[0])
	case "FPW":
		if len(args) != 1 {
			return "E,4\r"
		}
		return fmt.Sprintf("%d\r", s.wheels[args[0]])
	case "7":
		if len(fields) == 3 && fields[2] == "F" && len(args) == 1 {
			return fmt.Sprintf("%d\r", s.filters[args[0]])
		}
		if len(args) != 2 {
			return "E,4\r"
		}
		s.filters[args[0]] = args[1]
		return "R\r"
	case "ENCODER", "SERVO":
		return "0\r"
	case "GR":
		if len(args) != 3 {
			return "E,4\r"
		}
		s.moveTo(s.x+args[0], s.y+args[1])
		return "R\r"
	case "G":
		if len(args) != 3 {
			return "E,4\r"
		}
		s.moveTo(args[0], args[1])
		return "R\r"
	case "GX":
		if len(args) != 1 {
			return "E,4\r"
		}
		s.moveTo(args[0], s.y)
		return "R\r"
	case "GY":
		if len(args) != 1 {
			return "E,4\r"
		}
		s.moveTo(s.x, args[0])
		return "R\r"
	case "P":
		return fmt.Sprintf("%d,%d,0\r", s.x, s.y)
	case "PX":
		return fmt.Sprintf("%d\r", s.x)
	case "PY":
		return fmt.Sprintf("%d\r", s.y)
	case "LMT":
		return fmt.Sprintf("%02X\r", s.limitBits)
	}
	return "E,5\r"
}

// moveTo clamps the stage to [0, travel] and sets the limit switches it
// ends up touching. Callers hold mu.
func (s *ProScanSim) moveTo(x, y int) {
	s.x = min(max(x, 0), s.travelX)
	s.y = min(max(y, 0), s.travelY)

	s.limitBits = 0
	if s.x == s.travelX {
		s.limitBits |= 1 << 0
	}
	if s.x == 0 {
		s.limitBits |= 1 << 1
	}
	if s.y == s.travelY {
		s.limitBits |= 1 << 2
	}
	if s.y == 0 {
		s.limitBits |= 1 << 3
	}
}
