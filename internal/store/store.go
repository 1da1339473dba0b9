// Package store provides the shared state layer for stateful tools.
//
// Each tool that keeps records (routes, experiments, flags, saved models)
// gets a named bucket of JSON documents. The store is safe for concurrent
// use and persists the full state to a single file with an atomic
// write-then-rename, so a crashed process never leaves a half-written file.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

var (
	// ErrNotFound is returned when a key is missing from a bucket.
	ErrNotFound = errors.New("store: not found")
	// ErrExists is returned by PutNew when the key is already registered.
	ErrExists = errors.New("store: already exists")
)

// Store is a namespaced JSON document store.
type Store struct {
	mu      sync.RWMutex
	path    string
	buckets map[string]map[string]json.RawMessage
}

// Open loads a store from path, creating an empty one if the file does not
// exist. An empty path keeps the store memory-only.
func Open(path string) (*Store, error) {
	s := &Store{path: path, buckets: map[string]map[string]json.RawMessage{}}
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.buckets); err != nil {
		return nil, fmt.Errorf("decode store %s: %w", path, err)
	}
	return s, nil
}

// Get decodes the document at bucket/key into out.
func (s *Store) Get(bucket, key string, out any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs, ok := s.buckets[bucket]
	if !ok {
		return ErrNotFound
	}
	raw, ok := docs[key]
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(raw, out)
}

// Put writes a document, replacing any existing value.
func (s *Store) Put(bucket, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, ok := s.buckets[bucket]
	if !ok {
		docs = map[string]json.RawMessage{}
		s.buckets[bucket] = docs
	}
	docs[key] = raw
	return s.flushLocked()
}

// PutNew writes a document only if the key is not yet registered.
func (s *Store) PutNew(bucket, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, ok := s.buckets[bucket]
	if !ok {
		docs = map[string]json.RawMessage{}
		s.buckets[bucket] = docs
	}
	if _, exists := docs[key]; exists {
		return fmt.Errorf("%w: %s/%s", ErrExists, bucket, key)
	}
	docs[key] = raw
	return s.flushLocked()
}

// Delete removes a document. Deleting a missing key returns ErrNotFound.
func (s *Store) Delete(bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, ok := s.buckets[bucket]
	if !ok {
		return ErrNotFound
	}
	if _, exists := docs[key]; !exists {
		return ErrNotFound
	}
	delete(docs, key)
	return s.flushLocked()
}

// Keys returns the sorted keys of a bucket.
func (s *Store) Keys(bucket string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := s.buckets[bucket]
	keys := make([]string, 0, len(docs))
	for key := range docs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// List decodes every document in a bucket into a map keyed by document key.
// The decode callback receives the raw document and returns the typed value.
func (s *Store) List(bucket string, visit func(key string, raw json.RawMessage) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := s.buckets[bucket]
	keys := make([]string, 0, len(docs))
	for key := range docs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := visit(key, docs[key]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) flushLocked() error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.buckets, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".store-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
