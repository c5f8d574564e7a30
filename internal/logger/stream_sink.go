package logger

import "io"

// StreamSink wraps any byte sink — stdout included — as a Sink. Reopen is a
// no-op: there's no path to reopen a process's own stdout at.
type StreamSink struct {
	w io.Writer
}

func NewStreamSink(w io.Writer) *StreamSink {
	return &StreamSink{w: w}
}

func (s *StreamSink) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s *StreamSink) Reopen() error                { return nil }
func (s *StreamSink) Close() error {
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
