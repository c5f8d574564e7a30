package control

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/gosv/gosv/internal/logger"
)

// Server owns a listening Unix-domain socket and every accepted
// connection, each exposed to the event loop as its own Dispatcher.
// Nothing here blocks: the listening fd and every accepted fd are
// SOCK_NONBLOCK from birth.
type Server struct {
	path     string
	listenFD int
	conns    map[int]*conn
	handler  Handler
	log      *logger.Logger
	closed   bool
}

// Listen creates (replacing any stale socket file) and binds a
// non-blocking Unix stream socket at path.
func Listen(path string, handler Handler, log *logger.Logger) (*Server, error) {
	_ = os.Remove(path)

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("control: socket: %w", err)
	}
	sa := &unix.SockaddrUnix{Name: path}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("control: bind %s: %w", path, err)
	}
	if err := unix.Listen(fd, 16); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("control: listen %s: %w", path, err)
	}

	return &Server{
		path:     path,
		listenFD: fd,
		conns:    make(map[int]*conn),
		handler:  handler,
		log:      log,
	}, nil
}

// Dispatchers returns the listener plus every live connection, keyed by
// fd, for the loop to fold into its Select() set each tick.
func (s *Server) Dispatchers() map[int]Dispatcher {
	out := make(map[int]Dispatcher, len(s.conns)+1)
	if !s.closed {
		out[s.listenFD] = (*listenerDispatcher)(s)
	}
	for fd, c := range s.conns {
		out[fd] = c
	}
	return out
}

// Close shuts down the listener and every accepted connection. The socket
// path's inode is left behind; callers that want it removed from the
// filesystem should os.Remove it themselves. A later Listen at the same
// path removes the stale file before binding.
func (s *Server) Close() {
	if s.closed {
		return
	}
	s.closed = true
	unix.Close(s.listenFD)
	for fd, c := range s.conns {
		unix.Close(fd)
		delete(s.conns, fd)
	}
}

func (s *Server) removeConn(fd int) {
	delete(s.conns, fd)
}

// listenerDispatcher is *Server viewed solely as the listening socket's
// Dispatcher. A distinct named type (rather than methods directly on
// *Server) keeps "the listener" and "the set of connections it owns" from
// being confused by callers holding a bare *Server.
type listenerDispatcher Server

func (l *listenerDispatcher) FD() int          { return l.listenFD }
func (l *listenerDispatcher) Readable() bool   { return !l.closed }
func (l *listenerDispatcher) Writable() bool   { return false }
func (l *listenerDispatcher) HandleWriteEvent() error { return nil }

func (l *listenerDispatcher) HandleReadEvent() error {
	s := (*Server)(l)
	for {
		fd, _, err := unix.Accept4(s.listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return nil
			}
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("control: accept: %w", err)
		}
		s.conns[fd] = newConn(fd, s)
	}
}

func (l *listenerDispatcher) HandleError(err error) {
	s := (*Server)(l)
	s.log.Error("control listener %(path)s: %(err)s", "path", s.path, "err", err)
}

// conn is one accepted client connection, buffering inbound bytes until a
// full newline-delimited JSON request is available and outbound bytes
// until the kernel accepts them.
type conn struct {
	fd      int
	server  *Server
	inbuf   bytes.Buffer
	outbuf  bytes.Buffer
	scratch [4096]byte
	exiting bool
}

func newConn(fd int, s *Server) *conn {
	return &conn{fd: fd, server: s}
}

func (c *conn) FD() int        { return c.fd }
func (c *conn) Readable() bool { return !c.exiting }
func (c *conn) Writable() bool { return c.outbuf.Len() > 0 }

func (c *conn) HandleReadEvent() error {
	for {
		n, err := unix.Read(c.fd, c.scratch[:])
		switch {
		case n > 0:
			c.inbuf.Write(c.scratch[:n])
			c.consumeLines()
			if err == nil {
				continue
			}
		case n == 0:
			c.close()
			return nil
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			return nil
		case err == unix.EINTR:
			continue
		}
		if err != nil {
			c.close()
			return fmt.Errorf("control: conn read: %w", err)
		}
	}
}

func (c *conn) consumeLines() {
	for {
		buf := c.inbuf.Bytes()
		idx := bytes.IndexByte(buf, '\n')
		if idx < 0 {
			return
		}
		line := make([]byte, idx)
		copy(line, buf[:idx])
		c.inbuf.Next(idx + 1)
		c.dispatch(bytes.TrimSpace(line))
	}
}

func (c *conn) dispatch(line []byte) {
	if len(line) == 0 {
		return
	}
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		c.writeResponse(Response{ID: "", OK: false, Error: "malformed request: " + err.Error()})
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	resp, herr := c.server.handler(req)
	resp.ID = req.ID
	c.writeResponse(resp)
	if herr == ErrExitNow {
		c.exiting = true
	}
}

func (c *conn) writeResponse(resp Response) {
	b, err := json.Marshal(resp)
	if err != nil {
		return
	}
	c.outbuf.Write(b)
	c.outbuf.WriteByte('\n')
}

func (c *conn) HandleWriteEvent() error {
	for c.outbuf.Len() > 0 {
		n, err := unix.Write(c.fd, c.outbuf.Bytes())
		if n > 0 {
			c.outbuf.Next(n)
		}
		switch {
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			return nil
		case err == unix.EINTR:
			continue
		case err != nil:
			c.close()
			return fmt.Errorf("control: conn write: %w", err)
		}
	}
	if c.exiting {
		c.close()
		return ErrExitNow
	}
	return nil
}

func (c *conn) HandleError(err error) {
	c.server.log.Warn("control connection fd %(fd)s: %(err)s", "fd", c.fd, "err", err)
	c.close()
}

func (c *conn) close() {
	unix.Close(c.fd)
	c.server.removeConn(c.fd)
}
