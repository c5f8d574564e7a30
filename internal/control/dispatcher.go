// Package control implements the abstract dispatcher contract the event
// loop's I/O multiplex requires (§6), plus one concrete exerciser: a
// newline-delimited JSON request/response protocol over a Unix-domain
// socket. The HTTP/XML-RPC surface the original project exposes is out of
// scope; this is just enough to give the loop's polymorphic dispatcher
// slot something real to drive.
package control

import "errors"

// ErrExitNow unwinds the event loop cleanly, the Go analogue of the
// original's asyncore.ExitNow sentinel raised from a dispatcher.
var ErrExitNow = errors.New("control: exit now")

// Dispatcher is any I/O participant the loop multiplexes alongside process
// captures. Modeled as an interface rather than a type hierarchy, per
// SPEC_FULL.md §9.
type Dispatcher interface {
	FD() int
	Readable() bool
	Writable() bool
	HandleReadEvent() error
	HandleWriteEvent() error
	HandleError(err error)
}
