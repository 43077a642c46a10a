// internal/driver/prior/errors.go
package prior

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrHandshakeMismatch means the port is not a ProScan controller or
	// the controller is not answering
	ErrHandshakeMismatch = errors.New("proscan handshake mismatch")

	// ErrProtocolViolation means a reply did not match what the exchange
	// requires. The input has been drained before it is returned.
	ErrProtocolViolation = errors.New("proscan protocol violation")

	// ErrNoReply means the read timeout elapsed before a reply line was
	// complete. It is always reported together with ErrProtocolViolation.
	ErrNoReply = errors.New("no reply before read timeout")

	ErrDescriptionTruncated = errors.New("description block truncated")

	// ErrLimitNotReached is returned by limit finding when the limit switch
	// is not active after an overshooting move
	ErrLimitNotReached = errors.New("limit switch not reached")
)

// errorCodes maps the controller's E,n replies to their meaning
var errorCodes = map[int]string{
	1:  "NO STAGE",
	2:  "NOT IDLE",
	3:  "NO DRIVE",
	4:  "STRING PARSE",
	5:  "COMMAND NOT FOUND",
	6:  "INVALID SHUTTER",
	7:  "NO FOCUS",
	8:  "VALUE OUT OF RANGE",
	9:  "INVALID WHEEL",
	10: "ARG1 OUT OF RANGE",
	11: "ARG2 OUT OF RANGE",
	12: "ARG3 OUT OF RANGE",
	13: "ARG4 OUT OF RANGE",
	14: "ARG5 OUT OF RANGE",
	15: "ARG6 OUT OF RANGE",
	16: "INCORRECT STATE",
	17: "WHEEL NOT FITTED",
	18: "QUEUE FULL",
	19: "COMPATIBILITY MODE SET",
	20: "SHUTTER NOT FITTED",
	21: "INVALID CHECKSUM",
}

// describeReply returns the vendor text for an E,n reply, or "" for any
// other reply
func describeReply(reply []byte) string {
	s := strings.TrimSpace(string(reply))
	rest, ok := strings.CutPrefix(s, "E,")
	if !ok {
		return ""
	}
	code, err := strconv.Atoi(rest)
	if err != nil {
		return ""
	}
	if text, ok := errorCodes[code]; ok {
		return text
	}
	return fmt.Sprintf("unknown error %d", code)
}

// CommandError carries the raw command and raw reply of a failed exchange
type CommandError struct {
	Command []byte
	Reply   []byte
	Err     error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %q: unexpected reply %q", e.Command, e.Reply)
	if text := describeReply(e.Reply); text != "" {
		msg += " (" + text + ")"
	}
	return msg + ": " + e.Err.Error()
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
