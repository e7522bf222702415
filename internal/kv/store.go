// Package kv is the portal's only datastore: an ordered string-keyed mapping of
// JSON documents with prefix scans and an atomic counter primitive.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

var ErrNotFound = errors.New("kv: key not found")

type Entry struct {
	Key   string
	Value []byte
}

type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// SetIfAbsent stores value only when key does not exist yet and reports
	// whether it did.
	SetIfAbsent(ctx context.Context, key string, value []byte) (bool, error)
	Delete(ctx context.Context, key string) error
	// DeleteIfEqual removes key only while it still holds expected and
	// reports whether it did.
	DeleteIfEqual(ctx context.Context, key string, expected []byte) (bool, error)
	// CompareAndSwap replaces the value at key with value only while it still
	// holds expected and reports whether it did.
	CompareAndSwap(ctx context.Context, key string, expected, value []byte) (bool, error)
	GetByPrefix(ctx context.Context, prefix string) ([]Entry, error)
	// Incr atomically increments the integer stored at key (absent counts as
	// 0) and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

func GetJSON(ctx context.Context, s Store, key string, out any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func SetJSON(ctx context.Context, s Store, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, data)
}

func SetJSONIfAbsent(ctx context.Context, s Store, key string, value any) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	return s.SetIfAbsent(ctx, key, data)
}

// DecodeJSON unmarshals the value of an entry returned by GetByPrefix.
func DecodeJSON(e Entry, out any) error {
	return json.Unmarshal(e.Value, out)
}

func Ping(ctx context.Context, s Store) error {
	if p, ok := s.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func hasPrefix(key, prefix string) bool {
	return strings.HasPrefix(key, prefix)
}
