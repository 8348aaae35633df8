package export

import (
	"io"

	billy "github.com/go-git/go-billy/v5"

	"github.com/moneybenn-online/salt/internal/fileserver"
)

// envFile implements billy.File over a found, materialized file. Reads go
// through the engine's chunked serve path so the blob cache stays warm.
type envFile struct {
	srv *fileserver.Fileserver
	fnd *fileserver.Found
	pos int64
}

func (f *envFile) Name() string { return f.fnd.Rel }

func (f *envFile) Read(p []byte) (int, error) {
	n, err := f.ReadAt(p, f.pos)
	f.pos += int64(n)
	return n, err
}

func (f *envFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= f.fnd.Size {
		return 0, io.EOF
	}
	total := 0
	for total < len(p) && off+int64(total) < f.fnd.Size {
		chunk, err := f.srv.ServeFile(f.fnd, off+int64(total))
		if err != nil {
			return total, err
		}
		if len(chunk) == 0 {
			break
		}
		total += copy(p[total:], chunk)
	}
	if off+int64(total) >= f.fnd.Size {
		return total, io.EOF
	}
	return total, nil
}

func (f *envFile) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = f.pos + offset
	case io.SeekEnd:
		pos = f.fnd.Size + offset
	}
	if pos < 0 {
		pos = 0
	}
	f.pos = pos
	return f.pos, nil
}

func (f *envFile) Write([]byte) (int, error) { return 0, errReadOnly }
func (f *envFile) Truncate(int64) error      { return errReadOnly }
func (f *envFile) Lock() error               { return nil }
func (f *envFile) Unlock() error             { return nil }
func (f *envFile) Close() error              { return nil }

var _ billy.File = (*envFile)(nil)
