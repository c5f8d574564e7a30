// Package capture implements the per-(child, stream) pipe drain: one
// OutputCapture owns the read end of a non-blocking pipe, tees it into a
// rotating file sink and an optional bounded tail ring, and never blocks
// the event loop.
package capture

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/gosv/gosv/internal/logger"
)

const readChunk = 4096

// OutputCapture drains one child pipe fd.
type OutputCapture struct {
	fd     int
	name   string // "<process>:stdout" or "<process>:stderr", for logging
	file   logger.Sink // rotating file sink, may be nil
	ring   *logger.RingSink
	closed bool
}

func New(fd int, name string, file logger.Sink, ring *logger.RingSink) *OutputCapture {
	return &OutputCapture{fd: fd, name: name, file: file, ring: ring}
}

// FD is the read-end descriptor the event loop multiplexes on.
func (c *OutputCapture) FD() int { return c.fd }

// Readable reports whether this capture still owns an open pipe.
func (c *OutputCapture) Readable() bool { return !c.closed }

// Drain reads everything currently available without blocking, stopping at
// EAGAIN/EWOULDBLOCK. It returns io.EOF-equivalent (ok=false) once the
// write end has gone away (n==0 read, or ECONNRESET-ish condition), at
// which point the caller should Close this capture.
func (c *OutputCapture) Drain() (ok bool, err error) {
	if c.closed {
		return false, nil
	}
	buf := make([]byte, readChunk)
	for {
		n, rerr := unix.Read(c.fd, buf)
		switch {
		case n > 0:
			c.tee(buf[:n])
			if rerr == nil {
				continue
			}
		case rerr == unix.EAGAIN || rerr == unix.EWOULDBLOCK:
			return true, nil
		case rerr == unix.EINTR:
			continue
		case n == 0:
			// Write end closed: pipe is at EOF.
			return false, nil
		}
		if rerr != nil {
			return false, fmt.Errorf("capture %s: read: %w", c.name, rerr)
		}
	}
}

func (c *OutputCapture) tee(b []byte) {
	if c.file != nil {
		if _, err := c.file.Write(b); err != nil {
			// A broken child log must not stop the drain or the ring;
			// nothing else to do with the error at this layer.
			_ = err
		}
	}
	if c.ring != nil {
		c.ring.Write(b)
	}
}

// Tail returns up to n bytes of retained output, or nil if no ring is
// configured.
func (c *OutputCapture) Tail(n int) []byte {
	if c.ring == nil {
		return nil
	}
	return c.ring.Tail(n)
}

// Reopen reopens the backing file sink (SIGUSR2), a no-op if there is none.
func (c *OutputCapture) Reopen() error {
	if c.file == nil {
		return nil
	}
	return c.file.Reopen()
}

// Close releases the pipe fd. Closing the capture is the only way this fd
// is ever released, per the data-model invariant that every child pipe fd
// is owned by exactly one OutputCapture.
//
// Close never touches the file sink: the sink is opened once by the FSM
// in New and reused across every respawn's capture, so closing it here
// would leave every capture built for the next spawn writing into an
// already-closed file. Only the FSM, which owns the sink for the
// ProcessConfig's whole lifetime, may close it — on final shutdown or
// when a reload removes this process's config entirely.
func (c *OutputCapture) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return unix.Close(c.fd)
}
