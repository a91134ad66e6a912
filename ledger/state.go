package ledger

import (
	"fmt"
	"os"
)

// StateFile pairs an in-memory value of type T with a backing file
// that is always truncated and rewritten in full on every update --
// there is no incremental on-disk format, only the value's current
// canonical encoding. On open it loads whatever the file already
// holds, or seeds the file with initial if it was empty.
type StateFile[T any] struct {
	file   *os.File
	state  T
	encode func(T) []byte
	decode func([]byte) (T, error)
}

func OpenStateFile[T any](path string, initial T, encode func(T) []byte, decode func([]byte) (T, error)) (*StateFile[T], error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open state file %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	sf := &StateFile[T]{file: f, encode: encode, decode: decode}

	if info.Size() == 0 {
		sf.state = initial
		if err := sf.persist(); err != nil {
			return nil, err
		}
		return sf, nil
	}

	buf := make([]byte, info.Size())
	if _, err := f.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("read state file %s: %w", path, err)
	}
	state, err := decode(buf)
	if err != nil {
		sf.state = initial
		if err := sf.persist(); err != nil {
			return nil, err
		}
		return sf, nil
	}
	sf.state = state
	return sf, nil
}

func (s *StateFile[T]) Get() T {
	return s.state
}

// Set replaces the in-memory value and immediately rewrites the file.
func (s *StateFile[T]) Set(newState T) error {
	s.state = newState
	return s.persist()
}

func (s *StateFile[T]) persist() error {
	body := s.encode(s.state)
	if err := s.file.Truncate(0); err != nil {
		return err
	}
	if _, err := s.file.WriteAt(body, 0); err != nil {
		return err
	}
	return nil
}

func (s *StateFile[T]) Close() error {
	return s.file.Close()
}
