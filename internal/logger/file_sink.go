package logger

import (
	"fmt"
	"os"
)

// FileSink is a rotating file sink. Rotation happens before a write that
// would cross maxBytes: files are renamed from the highest backup index
// down (name.N-1 -> name.N, replacing and so discarding the old name.N),
// then the current file is renamed to name.1 and a fresh one opened.
//
// maxBytes == 0 disables rotation entirely.
type FileSink struct {
	path        string
	maxBytes    int64
	backupCount int

	f    *os.File
	size int64
}

func NewFileSink(path string, maxBytes int64, backupCount int) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("logger: open %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("logger: stat %s: %w", path, err)
	}
	return &FileSink{
		path:        path,
		maxBytes:    maxBytes,
		backupCount: backupCount,
		f:           f,
		size:        st.Size(),
	}, nil
}

func (s *FileSink) Write(p []byte) (int, error) {
	if s.maxBytes > 0 && s.size+int64(len(p)) >= s.maxBytes {
		if err := s.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := s.f.Write(p)
	s.size += int64(n)
	return n, err
}

func (s *FileSink) rotate() error {
	if err := s.f.Close(); err != nil {
		return err
	}
	if s.backupCount > 0 {
		for i := s.backupCount - 1; i >= 1; i-- {
			sfn := fmt.Sprintf("%s.%d", s.path, i)
			dfn := fmt.Sprintf("%s.%d", s.path, i+1)
			if _, err := os.Stat(sfn); err == nil {
				if _, err := os.Stat(dfn); err == nil {
					os.Remove(dfn)
				}
				os.Rename(sfn, dfn)
			}
		}
		dfn := s.path + ".1"
		if _, err := os.Stat(dfn); err == nil {
			os.Remove(dfn)
		}
		os.Rename(s.path, dfn)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("logger: reopen %s after rotate: %w", s.path, err)
	}
	s.f = f
	s.size = 0
	return nil
}

// Reopen closes and reopens the file at the same path in append mode,
// without rotating. Used on SIGUSR2 and by external log-rotation tools
// that have already moved the file out from under us.
func (s *FileSink) Reopen() error {
	if s.f != nil {
		s.f.Close()
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("logger: reopen %s: %w", s.path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	s.f = f
	s.size = st.Size()
	return nil
}

func (s *FileSink) Close() error {
	if s.f == nil {
		return nil
	}
	return s.f.Close()
}

// Remove deletes the underlying file, ignoring a not-exist error, mirroring
// FileHandler.remove() in the original implementation.
func (s *FileSink) Remove() error {
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
