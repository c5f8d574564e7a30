package capture

import (
	"bytes"
	"os"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/gosv/gosv/internal/logger"
)

func TestDrainTeesIntoFileAndRing(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/out.log"

	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		t.Fatalf("pipe2: %v", err)
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		t.Fatalf("setnonblock: %v", err)
	}
	r, w := fds[0], fds[1]

	// The file sink is a plain *os.File behind the Sink-shaped adapter
	// below; the ring is a real logger.RingSink.
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ring := logger.NewRingSink(64)
	c := New(r, "test:stdout", fileSink{f}, ring)

	unix.Write(w, []byte("hello\nworld\n"))
	unix.Close(w)

	for {
		ok, err := c.Drain()
		if err != nil {
			t.Fatalf("Drain: %v", err)
		}
		if !ok {
			break
		}
	}

	f.Close()
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, []byte("hello\nworld\n")) {
		t.Fatalf("unexpected log content: %q", got)
	}
	if tail := c.Tail(64); !bytes.Equal(tail, []byte("hello\nworld\n")) {
		t.Fatalf("unexpected ring content: %q", tail)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if c.Readable() {
		t.Fatal("expected capture to report not readable after Close")
	}
}

func TestDrainReturnsNotOKOnEOF(t *testing.T) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		t.Fatalf("pipe2: %v", err)
	}
	unix.SetNonblock(fds[0], true)
	r, w := fds[0], fds[1]
	unix.Close(w)

	c := New(r, "test:stderr", nil, nil)
	ok, err := c.Drain()
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if ok {
		t.Fatal("expected Drain to report EOF (ok=false) once write end is closed")
	}
	c.Close()
}

// fileSink adapts *os.File to the logger.Sink shape capture expects.
type fileSink struct{ f *os.File }

func (s fileSink) Write(p []byte) (int, error) { return s.f.Write(p) }
func (s fileSink) Reopen() error                { return nil }
func (s fileSink) Close() error                 { return nil }
