// internal/testutil/serial.go
package testutil

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

// Reply is one chunk of bytes the fake device sends after Delay
type Reply struct {
	Data  string
	Delay time.Duration
}

// Responder returns the replies to one command, without its terminator
type Responder func(cmd string) []Reply

// Static answers each known command with the same immediate reply and
// ignores anything else
func Static(replies map[string]string) Responder {
	return func(cmd string) []Reply {
		if reply, ok := replies[cmd]; ok {
			return []Reply{{Data: reply}}
		}
		return nil
	}
}

// Chain tries each responder in turn and uses the first that answers.
// Nil responders are skipped.
func Chain(responders ...Responder) Responder {
	return func(cmd string) []Reply {
		for _, r := range responders {
			if r == nil {
				continue
			}
			if replies := r(cmd); replies != nil {
				return replies
			}
		}
		return nil
	}
}

// Delayed adds d to the delay of every reply of r
func Delayed(r Responder, d time.Duration) Responder {
	return func(cmd string) []Reply {
		replies := r(cmd)
		for i := range replies {
			replies[i].Delay += d
		}
		return replies
	}
}

// ErrPortClosed is returned by a FakePort after Close
var ErrPortClosed = errors.New("fake port closed")

type scheduled struct {
	at   time.Time
	data []byte
}

// FakePort is a scripted serial line. Reads honour the read timeout and
// replies can be delayed. A command written while an earlier reply is still
// unread counts as an interleaving violation.
type FakePort struct {
	mu         sync.Mutex
	respond    Responder
	timeout    time.Duration
	timeouts   []time.Duration
	partial    []byte
	input      []byte
	pending    []scheduled
	writes     []string
	resets     int
	violations int
	closed     bool
	writeErr   error
}

// NewFakePort creates a port with a 50ms read timeout
func NewFakePort(respond Responder) *FakePort {
	return &FakePort{
		respond: respond,
		timeout: 50 * time.Millisecond,
	}
}

// promote moves replies that are due into the input buffer. Callers hold mu.
func (f *FakePort) promote(now time.Time) {
	kept := f.pending[:0]
	for _, s := range f.pending {
		if !s.at.After(now) {
			f.input = append(f.input, s.data...)
		} else {
			kept = append(kept, s)
		}
	}
	f.pending = kept
}

func (f *FakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, ErrPortClosed
	}
	if f.writeErr != nil {
		return 0, f.writeErr
	}

	now := time.Now()
	f.promote(now)
	if len(f.input) > 0 || len(f.pending) > 0 {
		f.violations++
	}

	f.partial = append(f.partial, p...)
	for {
		i := bytes.IndexByte(f.partial, '\r')
		if i < 0 {
			break
		}
		cmd := string(f.partial[:i])
		f.partial = f.partial[i+1:]
		f.writes = append(f.writes, cmd)

		if f.respond == nil {
			continue
		}
		for _, r := range f.respond(cmd) {
			f.pending = append(f.pending, scheduled{at: now.Add(r.Delay), data: []byte(r.Data)})
		}
	}
	f.promote(now)
	return len(p), nil
}

// Read returns whatever has arrived, waiting up to the read timeout.
// A timeout returns 0 bytes and no error.
func (f *FakePort) Read(p []byte) (int, error) {
	f.mu.Lock()
	deadline := time.Now().Add(f.timeout)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return 0, ErrPortClosed
		}
		now := time.Now()
		f.promote(now)
		if len(f.input) > 0 {
			n := copy(p, f.input)
			f.input = f.input[n:]
			f.mu.Unlock()
			return n, nil
		}
		f.mu.Unlock()

		remaining := deadline.Sub(now)
		if remaining <= 0 {
			return 0, nil
		}
		time.Sleep(min(remaining, time.Millisecond))
	}
}

// ResetInputBuffer drops bytes that have already arrived. Replies still
// in flight are not affected.
func (f *FakePort) ResetInputBuffer() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.promote(time.Now())
	f.input = nil
	f.resets++
	return nil
}

func (f *FakePort) SetReadTimeout(timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.timeout = timeout
	f.timeouts = append(f.timeouts, timeout)
	return nil
}

func (f *FakePort) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	return nil
}

// Inject makes data arrive as if the device had sent it unprompted
func (f *FakePort) Inject(data string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.input = append(f.input, data...)
}

// SetResponder replaces the script
func (f *FakePort) SetResponder(respond Responder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.respond = respond
}

// FailWrites makes every later write fail with err
func (f *FakePort) FailWrites(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr = err
}

// Writes returns the commands written so far, without terminators
func (f *FakePort) Writes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

// ClearWrites forgets the commands written so far
func (f *FakePort) ClearWrites() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = nil
}

// Timeout returns the current read timeout
func (f *FakePort) Timeout() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.timeout
}

// Timeouts returns every read timeout that was set, in order
func (f *FakePort) Timeouts() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.timeouts...)
}

func (f *FakePort) Resets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resets
}

// Violations counts commands written before the previous reply was read
func (f *FakePort) Violations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.violations
}

func (f *FakePort) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
