// Package filekv keeps string key/values in a single JSON file, rewritten atomically on every change.
package filekv

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/writeonenglish/woe/core"
)

const (
	filePerm      = 0o600
	corruptSuffix = ".corrupt"
)

type Store struct {
	path   string
	logger core.Logger

	mu sync.Mutex
}

// Open returns a Store on path, creating the parent directory if needed. The file itself is created on first write.
func Open(path string, logger core.Logger) (*Store, error) {
	if err := vala.BeginValidation().Validate(
		vala.StringNotEmpty(path, "path"),
		vala.IsNotNil(logger, "logger"),
	).Check(); err != nil {
		return nil, errors.Wrap(err, "filekv")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.Wrap(err, "filekv: creating directory")
	}
	return &Store{path: path, logger: logger}, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) GetItem(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.read()
	if err != nil {
		return "", false, err
	}
	v, ok := items[key]
	return v, ok, nil
}

func (s *Store) SetItem(ctx context.Context, key, value string) error {
	return s.update(ctx, func(items map[string]string) { items[key] = value })
}

func (s *Store) RemoveItem(ctx context.Context, key string) error {
	return s.update(ctx, func(items map[string]string) { delete(items, key) })
}

func (s *Store) update(ctx context.Context, fn func(items map[string]string)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.read()
	if err != nil {
		return err
	}
	fn(items)
	return s.write(items)
}

func (s *Store) read() (map[string]string, error) {
	items := make(map[string]string)
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return items, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "filekv: reading")
	}
	if len(data) == 0 {
		return items, nil
	}
	if err := json.Unmarshal(data, &items); err != nil {
		s.discard(err)
		return make(map[string]string), nil
	}
	return items, nil
}

// discard moves an undecodable file aside, so it reads as empty and the next write starts over.
func (s *Store) discard(decodeErr error) {
	backup := s.path + corruptSuffix
	if err := os.Rename(s.path, backup); err != nil {
		s.logger.Warn(fmt.Sprintf("filekv: %s is corrupt (%v) and could not be moved aside: %v", s.path, decodeErr, err))
		return
	}
	s.logger.Warn(fmt.Sprintf("filekv: %s is corrupt (%v), moved to %s", s.path, decodeErr, backup))
}

func (s *Store) write(items map[string]string) error {
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return errors.Wrap(err, "filekv: encoding")
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "filekv: creating temp file")
	}
	defer os.Remove(tmp.Name()) // no-op after the rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "filekv: writing")
	}
	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()
		return errors.Wrap(err, "filekv: chmod")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "filekv: closing")
	}
	return errors.Wrap(os.Rename(tmp.Name(), s.path), "filekv: replacing")
}
