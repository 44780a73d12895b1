// Package store is the content-addressed result store shared by every task in
// a run.
//
// Objects are immutable byte payloads keyed by the sha256 of their content.
// A second index maps (logical name, id) to an object key so a task can ask
// whether its result already exists before creating jobs.
//
// Writes are idempotent: writing identical content under an existing key, or
// re-binding a name to the key it already holds, is a no-op. Any attempt to
// change what a key or binding refers to is a *core.ConsistencyError.
package store

import (
	"bytes"
	"errors"
	"fmt"

	"phylobuild/internal/core"
)

// ErrNotFound is returned by Get and Lookup when nothing is stored.
var ErrNotFound = errors.New("not found")

// Store persists payloads and name bindings.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Put stores data under key.
	Put(key string, data []byte) error

	// Get returns the payload stored under key, or ErrNotFound.
	Get(key string) ([]byte, error)

	// Has reports whether key is stored.
	Has(key string) (bool, error)

	// Bind records that (name, id) resolves to key.
	Bind(name, id, key string) error

	// Lookup returns the key bound to (name, id), or ErrNotFound.
	Lookup(name, id string) (string, error)

	// Close releases underlying resources.
	Close() error
}

// PutContent stores data under its content key and returns the key.
func PutContent(s Store, data []byte) (string, error) {
	key := core.ContentKey(data)
	if err := s.Put(key, data); err != nil {
		return "", err
	}
	return key, nil
}

// Publish stores data and binds it to (name, id) in one step.
func Publish(s Store, name, id string, data []byte) (string, error) {
	key, err := PutContent(s, data)
	if err != nil {
		return "", err
	}
	if err := s.Bind(name, id, key); err != nil {
		return "", err
	}
	return key, nil
}

// Resolve looks up (name, id) and returns the bound payload.
func Resolve(s Store, name, id string) ([]byte, error) {
	key, err := s.Lookup(name, id)
	if err != nil {
		return nil, err
	}
	data, err := s.Get(key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &core.ConsistencyError{
				Code:    "DanglingBinding",
				Message: fmt.Sprintf("%s/%s is bound to missing object %s", name, id, key),
			}
		}
		return nil, err
	}
	return data, nil
}

func checkSameContent(key string, existing, data []byte) error {
	if bytes.Equal(existing, data) {
		return nil
	}
	return &core.ConsistencyError{
		Code:    "KeyCollision",
		Message: fmt.Sprintf("key %s already holds different content", key),
	}
}

func checkSameBinding(name, id, existing, key string) error {
	if existing == key {
		return nil
	}
	return &core.ConsistencyError{
		Code:    "BindingCollision",
		Message: fmt.Sprintf("%s/%s already bound to %s, refusing %s", name, id, existing, key),
	}
}

func validateKey(key string) error {
	if key == "" {
		return errors.New("store key is empty")
	}
	return nil
}
