package kv

import (
	"context"
	"errors"
	"time"

	"github.com/dhyanmanav/GAT-CMS-2/internal/apperr"
)

type timeoutStore struct {
	next    Store
	timeout time.Duration
}

// WithTimeout bounds every call on next by timeout and translates backend
// failures into apperr.Timeout / apperr.Storage. ErrNotFound passes through
// untouched. A non-positive timeout only translates errors.
func WithTimeout(next Store, timeout time.Duration) Store {
	return &timeoutStore{next: next, timeout: timeout}
}

func (s *timeoutStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	value, err := s.next.Get(ctx, key)
	return value, translate(ctx, "get", err)
}

func (s *timeoutStore) Set(ctx context.Context, key string, value []byte) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return translate(ctx, "set", s.next.Set(ctx, key, value))
}

func (s *timeoutStore) SetIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	ok, err := s.next.SetIfAbsent(ctx, key, value)
	return ok, translate(ctx, "set", err)
}

func (s *timeoutStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return translate(ctx, "delete", s.next.Delete(ctx, key))
}

func (s *timeoutStore) DeleteIfEqual(ctx context.Context, key string, expected []byte) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	ok, err := s.next.DeleteIfEqual(ctx, key, expected)
	return ok, translate(ctx, "delete", err)
}

func (s *timeoutStore) CompareAndSwap(ctx context.Context, key string, expected, value []byte) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	ok, err := s.next.CompareAndSwap(ctx, key, expected, value)
	return ok, translate(ctx, "set", err)
}

func (s *timeoutStore) GetByPrefix(ctx context.Context, prefix string) ([]Entry, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	entries, err := s.next.GetByPrefix(ctx, prefix)
	return entries, translate(ctx, "scan", err)
}

func (s *timeoutStore) Incr(ctx context.Context, key string) (int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	value, err := s.next.Incr(ctx, key)
	return value, translate(ctx, "incr", err)
}

func (s *timeoutStore) Ping(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return translate(ctx, "ping", Ping(ctx, s.next))
}

func (s *timeoutStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func translate(ctx context.Context, op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperr.Wrap(apperr.Timeout, "storage_timeout", "storage "+op+" timed out", err)
	}
	return apperr.Wrap(apperr.Storage, "storage_error", "storage "+op+" failed", err)
}
