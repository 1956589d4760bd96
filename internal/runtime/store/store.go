package store

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"

	errspkg "github.com/drblury/bulkbus/internal/runtime/errors"
	"github.com/drblury/bulkbus/internal/runtime/ids"
)

// File is the handle a FileStore writes to. *os.File satisfies it.
type File interface {
	io.ReadWriteSeeker
	io.Closer
}

// Store is an append only record stream owned by a hibernating queue.
type Store interface {
	// Append encodes item at the end of the stream.
	Append(item any) error
	// ReadAll decodes every record from the start of the stream. The stream
	// stays open and writable.
	ReadAll() ([]any, error)
	Close() error
}

// FileStore implements Store over a seekable file. All failures are
// reported as *errors.StoreError.
type FileStore struct {
	mu     sync.Mutex
	f      File
	codec  Codec
	enc    Encoder
	path   string
	remove bool
	closed bool
}

var _ Store = (*FileStore)(nil)

// New wraps an already open file. A nil codec selects msgpack.
func New(f File, codec Codec) *FileStore {
	if codec == nil {
		codec = MsgpackCodec{}
	}
	return &FileStore{f: f, codec: codec, enc: codec.NewEncoder(f)}
}

// OpenFile opens (or creates) path for appending records. Existing records
// are kept and returned by ReadAll.
func OpenFile(path string, codec Codec) (*FileStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, errspkg.NewStoreError("open", err)
	}
	s := New(f, codec)
	s.path = path
	return s, nil
}

// CreateTemp creates a fresh store file in dir that is deleted on Close. An
// empty dir selects os.TempDir().
func CreateTemp(dir string, codec Codec) (*FileStore, error) {
	if codec == nil {
		codec = MsgpackCodec{}
	}
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, ids.WithPrefix("bulkbus")+"."+codec.Name())
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, errspkg.NewStoreError("create", err)
	}
	s := New(f, codec)
	s.path = path
	s.remove = true
	return s, nil
}

// Path returns the file path for stores opened by path, or "".
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Codec() Codec {
	return s.codec
}

func (s *FileStore) Append(item any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errspkg.NewStoreError("append", os.ErrClosed)
	}
	if _, err := s.f.Seek(0, io.SeekEnd); err != nil {
		return errspkg.NewStoreError("append", err)
	}
	return errspkg.NewStoreError("append", s.enc.Encode(item))
}

func (s *FileStore) ReadAll() ([]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errspkg.NewStoreError("read", os.ErrClosed)
	}
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return nil, errspkg.NewStoreError("read", err)
	}

	dec := s.codec.NewDecoder(s.f)
	var items []any
	for {
		item, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errspkg.NewStoreError("read", err)
		}
		items = append(items, item)
	}

	if _, err := s.f.Seek(0, io.SeekEnd); err != nil {
		return nil, errspkg.NewStoreError("read", err)
	}
	return items, nil
}

// Close releases the file. Temporary stores are removed. Calling Close more
// than once is a no-op.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	err := s.f.Close()
	if s.remove {
		if rerr := os.Remove(s.path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			err = errors.Join(err, rerr)
		}
	}
	return errspkg.NewStoreError("close", err)
}
