// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package storage

import (
	"iter"
	"strings"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"

	"github.com/juju/ops/internal/hooktool"
)

// noticesKey is the controller state key holding the notice list.
const noticesKey = "#notices#"

// StateBackend is a key/value store kept by the controller on behalf of
// a unit.
type StateBackend interface {
	// Get returns the value stored under key, or an error satisfying
	// errors.Is(err, errors.NotFound).
	Get(key string) (string, error)

	// Set stores value under key.
	Set(key, value string) error

	// Delete removes key.
	Delete(key string) error
}

// NewHookToolBackend returns a StateBackend that uses the state-get,
// state-set and state-delete hook tools.
func NewHookToolBackend(runner hooktool.Runner) StateBackend {
	return &hookToolBackend{runner: runner}
}

// JujuBackendAvailable reports whether the hook tools needed by the
// controller state backend can be found.
func JujuBackendAvailable() bool {
	return hooktool.Available("state-get")
}

type hookToolBackend struct {
	runner hooktool.Runner
}

// Get is part of the StateBackend interface.
func (b *hookToolBackend) Get(key string) (string, error) {
	out, err := b.runner.Run("state-get", nil, key)
	if err != nil {
		return "", errors.Trace(err)
	}
	if strings.TrimSpace(string(out)) == "" {
		return "", errors.NotFoundf("state key %q", key)
	}
	return string(out), nil
}

// Set is part of the StateBackend interface.
func (b *hookToolBackend) Set(key, value string) error {
	content, err := yaml.Marshal(map[string]string{key: value})
	if err != nil {
		return errors.Trace(err)
	}
	_, err = b.runner.Run("state-set", content, "--file", "-")
	return errors.Trace(err)
}

// Delete is part of the StateBackend interface.
func (b *hookToolBackend) Delete(key string) error {
	_, err := b.runner.Run("state-delete", nil, key)
	return errors.Trace(err)
}

// JujuStorage is a Storage kept in the controller's per-unit state. It
// survives the loss of the charm directory, which is the case for pods
// on Kubernetes. Every write is sent to the controller immediately, so
// Commit has nothing to do.
type JujuStorage struct {
	backend StateBackend

	// removed holds the list positions dropped so far, in order, so
	// that running iterations can keep their place.
	removed []int
}

// NewJujuStorage returns a JujuStorage using the given backend.
func NewJujuStorage(backend StateBackend) *JujuStorage {
	return &JujuStorage{backend: backend}
}

// SaveSnapshot is part of the Storage interface.
func (s *JujuStorage) SaveSnapshot(handlePath string, data []byte) error {
	return errors.Annotatef(s.backend.Set(handlePath, string(data)), "saving snapshot %q", handlePath)
}

// LoadSnapshot is part of the Storage interface.
func (s *JujuStorage) LoadSnapshot(handlePath string) ([]byte, error) {
	value, err := s.backend.Get(handlePath)
	if errors.Is(err, errors.NotFound) {
		return nil, errors.NotFoundf("snapshot %q", handlePath)
	} else if err != nil {
		return nil, errors.Annotatef(err, "loading snapshot %q", handlePath)
	}
	return []byte(value), nil
}

// DropSnapshot is part of the Storage interface.
func (s *JujuStorage) DropSnapshot(handlePath string) error {
	return errors.Annotatef(s.backend.Delete(handlePath), "dropping snapshot %q", handlePath)
}

// SaveNotice is part of the Storage interface.
func (s *JujuStorage) SaveNotice(eventPath, observerPath, methodName string) error {
	notices, err := s.loadNotices()
	if err != nil {
		return errors.Trace(err)
	}
	notices = append(notices, [3]string{eventPath, observerPath, methodName})
	return errors.Trace(s.saveNotices(notices))
}

// DropNotice is part of the Storage interface.
func (s *JujuStorage) DropNotice(eventPath, observerPath, methodName string) error {
	notices, err := s.loadNotices()
	if err != nil {
		return errors.Trace(err)
	}
	want := [3]string{eventPath, observerPath, methodName}
	for i, n := range notices {
		if n == want {
			notices = append(notices[:i], notices[i+1:]...)
			if err := s.saveNotices(notices); err != nil {
				return errors.Trace(err)
			}
			s.removed = append(s.removed, i)
			return nil
		}
	}
	return nil
}

// Notices is part of the Storage interface. The list is read again
// before each notice, so notices saved or dropped through s while
// iterating are seen. Sequence numbers are list positions at the time
// the notice is yielded.
func (s *JujuStorage) Notices(eventPath string) iter.Seq2[Notice, error] {
	return func(yield func(Notice, error) bool) {
		cursor, seen := -1, len(s.removed)
		for {
			notices, err := s.loadNotices()
			if err != nil {
				yield(Notice{}, err)
				return
			}
			for _, i := range s.removed[seen:] {
				if i <= cursor {
					cursor--
				}
			}
			seen = len(s.removed)

			next := -1
			for i := cursor + 1; i < len(notices); i++ {
				if eventPath == "" || notices[i][0] == eventPath {
					next = i
					break
				}
			}
			if next < 0 {
				return
			}
			cursor = next
			n := notices[next]
			notice := Notice{
				Sequence:     int64(next + 1),
				EventPath:    n[0],
				ObserverPath: n[1],
				MethodName:   n[2],
			}
			if !yield(notice, nil) {
				return
			}
		}
	}
}

func (s *JujuStorage) loadNotices() ([][3]string, error) {
	value, err := s.backend.Get(noticesKey)
	if errors.Is(err, errors.NotFound) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Annotate(err, "loading notices")
	}
	var notices [][3]string
	if err := yaml.Unmarshal([]byte(value), &notices); err != nil {
		return nil, errors.Annotate(err, "decoding notices")
	}
	return notices, nil
}

func (s *JujuStorage) saveNotices(notices [][3]string) error {
	if notices == nil {
		notices = [][3]string{}
	}
	value, err := yaml.Marshal(notices)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Annotate(s.backend.Set(noticesKey, string(value)), "saving notices")
}

// Commit is part of the Storage interface.
func (s *JujuStorage) Commit() error {
	return nil
}

// Close is part of the Storage interface.
func (s *JujuStorage) Close() error {
	return nil
}
