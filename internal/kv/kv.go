// Package kv is the durable hierarchical configuration store. Values are
// JSON documents addressed by scope and name and persisted in pebble.
package kv

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"guildkeeper/internal/utils"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

type Scope struct {
	kind  string
	parts []string
}

func Global() Scope                  { return Scope{kind: "global"} }
func Guild(guildID string) Scope     { return Scope{kind: "guild", parts: []string{guildID}} }
func Channel(channelID string) Scope { return Scope{kind: "channel", parts: []string{channelID}} }
func Member(guildID, userID string) Scope {
	return Scope{kind: "member", parts: []string{guildID, userID}}
}

// Custom scopes namespace data that does not belong to a platform object.
func Custom(namespace string, keys ...string) Scope {
	return Scope{kind: "custom", parts: append([]string{namespace}, keys...)}
}

func (s Scope) Kind() string    { return s.kind }
func (s Scope) Parts() []string { return s.parts }

func (s Scope) prefix() string {
	if len(s.parts) == 0 {
		return s.kind + "/"
	}
	return s.kind + "/" + strings.Join(s.parts, "/") + "/"
}

func (s Scope) key(name string) []byte {
	return []byte(s.prefix() + name)
}

type Store struct {
	db    *pebble.DB
	locks *utils.KeyedMutex
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open kv store: %w", err)
	}
	return &Store{db: db, locks: utils.NewKeyedMutex()}, nil
}

// OpenInMemory is used by tests.
func OpenInMemory() (*Store, error) {
	db, err := pebble.Open("mem", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, err
	}
	return &Store{db: db, locks: utils.NewKeyedMutex()}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get decodes the value into out and reports whether it existed.
func (s *Store) Get(scope Scope, name string, out any) (bool, error) {
	raw, err := s.GetRaw(scope, name)
	if err != nil || raw == nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", scope.key(name), err)
	}
	return true, nil
}

func (s *Store) GetRaw(scope Scope, name string) ([]byte, error) {
	value, closer, err := s.db.Get(scope.key(name))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (s *Store) Set(scope Scope, name string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.SetRaw(scope, name, raw)
}

func (s *Store) SetRaw(scope Scope, name string, raw []byte) error {
	return s.db.Set(scope.key(name), raw, pebble.Sync)
}

func (s *Store) Clear(scope Scope, name string) error {
	return s.db.Delete(scope.key(name), pebble.Sync)
}

// Update performs an atomic read-modify-write of one value. out is filled
// with the current value (left untouched when absent) before fn runs; the
// value is written back when fn returns nil.
func (s *Store) Update(scope Scope, name string, out any, fn func() error) error {
	unlock := s.locks.Lock(string(scope.key(name)))
	defer unlock()
	if _, err := s.Get(scope, name, out); err != nil {
		return err
	}
	if err := fn(); err != nil {
		return err
	}
	return s.Set(scope, name, out)
}

// Iterate visits every value stored under name for all scopes of kind,
// passing the scope parts and the raw document.
func (s *Store) Iterate(kind, name string, fn func(parts []string, raw []byte) error) error {
	prefix := []byte(kind + "/")
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixEnd(prefix)})
	if err != nil {
		return err
	}
	defer iter.Close()

	suffix := []byte("/" + name)
	for ok := iter.First(); ok; ok = iter.Next() {
		k := iter.Key()
		if !bytes.HasSuffix(k, suffix) {
			continue
		}
		middle := string(k[len(prefix) : len(k)-len(suffix)])
		value := make([]byte, len(iter.Value()))
		copy(value, iter.Value())
		if err := fn(strings.Split(middle, "/"), value); err != nil {
			return err
		}
	}
	return iter.Error()
}

// ClearScope removes every value under scope.
func (s *Store) ClearScope(scope Scope) error {
	prefix := []byte(scope.prefix())
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.DeleteRange(prefix, prefixEnd(prefix), nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
