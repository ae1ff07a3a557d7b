package ssh

import (
	"bytes"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/pkg/sftp"
)

// sftpChunkSize is the transfer unit for remote file reads and writes.
const sftpChunkSize = 4096

// newFileMode is applied to files created by WriteFile.
const newFileMode os.FileMode = 0o644

// SftpFile is an open remote file. Release is idempotent and every method
// fails with ErrChannelReleased afterwards.
type SftpFile struct {
	file *sftp.File
	path string

	once     sync.Once
	mu       sync.Mutex
	released bool
}

func (f *SftpFile) live() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.released {
		return &SftpError{Op: "use", Path: f.path, Err: ErrChannelReleased}
	}
	return nil
}

// ReadAll reads the file in fixed-size chunks until EOF.
func (f *SftpFile) ReadAll() ([]byte, error) {
	if err := f.live(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	chunk := make([]byte, sftpChunkSize)
	for {
		n, err := f.file.Read(chunk)
		buf.Write(chunk[:n])
		if errors.Is(err, io.EOF) {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, &SftpError{Op: "read", Path: f.path, Err: err}
		}
	}
}

// WriteAll writes data in chunks, failing on any short write.
func (f *SftpFile) WriteAll(data []byte) error {
	if err := f.live(); err != nil {
		return err
	}
	for off := 0; off < len(data); off += sftpChunkSize {
		end := min(off+sftpChunkSize, len(data))
		n, err := f.file.Write(data[off:end])
		if err != nil {
			return &SftpError{Op: "write", Path: f.path, Err: err}
		}
		if n != end-off {
			return &SftpError{Op: "write", Path: f.path, Err: ErrShortWrite}
		}
	}
	return nil
}

// Release closes the remote handle. Later calls are no-ops.
func (f *SftpFile) Release() error {
	var err error
	f.once.Do(func() {
		f.mu.Lock()
		f.released = true
		f.mu.Unlock()
		if closeErr := f.file.Close(); closeErr != nil {
			err = &SftpError{Op: "close", Path: f.path, Err: closeErr}
		}
	})
	return err
}

// sftpClient starts the sftp subsystem on first use and reuses it until the
// session closes.
func (s *Session) sftpClient() (*sftp.Client, error) {
	client, err := s.authenticated()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sftp != nil {
		return s.sftp, nil
	}
	sc, err := sftp.NewClient(client)
	if err != nil {
		return nil, &SftpError{Op: "init", Err: err}
	}
	s.sftp = sc
	s.logger.Debug().Msg("sftp subsystem started")
	return sc, nil
}

// OpenFile opens a remote file with the given flags.
func (s *Session) OpenFile(path string, flags int) (*SftpFile, error) {
	sc, err := s.sftpClient()
	if err != nil {
		return nil, err
	}
	file, err := sc.OpenFile(path, flags)
	if err != nil {
		return nil, &SftpError{Op: "open", Path: path, Err: err}
	}
	return &SftpFile{file: file, path: path}, nil
}

// ReadFile returns the full contents of a remote file.
func (s *Session) ReadFile(path string) ([]byte, error) {
	file, err := s.OpenFile(path, os.O_RDONLY)
	if err != nil {
		return nil, err
	}
	defer file.Release()

	s.logger.Debug().Str("path", path).Msg("sftp read")
	return file.ReadAll()
}

// WriteFile replaces the remote file with data. New files get mode 0644;
// existing files keep their mode.
func (s *Session) WriteFile(path string, data []byte) error {
	sc, err := s.sftpClient()
	if err != nil {
		return err
	}
	_, statErr := sc.Stat(path)
	created := errors.Is(statErr, os.ErrNotExist)

	file, err := s.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return err
	}
	defer file.Release()

	if created {
		if err := sc.Chmod(path, newFileMode); err != nil {
			return &SftpError{Op: "chmod", Path: path, Err: err}
		}
	}

	s.logger.Debug().Str("path", path).Int("bytes", len(data)).Msg("sftp write")
	if err := file.WriteAll(data); err != nil {
		return err
	}
	return file.Release()
}
