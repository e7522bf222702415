// Package certificates implements the bonafide certificate request lifecycle:
// students submit requests, admins approve or reject them, and every approval
// draws the next certificate number.
package certificates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dhyanmanav/GAT-CMS-2/internal/apperr"
	"github.com/dhyanmanav/GAT-CMS-2/internal/auth"
	"github.com/dhyanmanav/GAT-CMS-2/internal/kv"
	"github.com/dhyanmanav/GAT-CMS-2/internal/metrics"
)

const (
	maxIDAttempts       = 1000
	maxDecisionAttempts = 5
)

type Options struct {
	// ListAllAdminOnly restricts ListAll to admins.
	ListAllAdminOnly bool
}

type Workflow struct {
	store   kv.Store
	seq     *Sequence
	log     *zap.Logger
	metrics *metrics.Metrics
	opts    Options
	now     func() time.Time

	// mu serializes decisions within the process so a lost swap does not
	// waste a certificate number.
	mu sync.Mutex
}

func NewWorkflow(store kv.Store, seq *Sequence, log *zap.Logger, m *metrics.Metrics, opts Options) *Workflow {
	return &Workflow{
		store:   store,
		seq:     seq,
		log:     log,
		metrics: m,
		opts:    opts,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (w *Workflow) Submit(ctx context.Context, p auth.Principal, in Fields) (Request, error) {
	if p.UserID == "" {
		return Request{}, apperr.Unauthenticated("unauthorized", "Unauthorized")
	}
	if !p.IsStudent() {
		return Request{}, apperr.Forbidden("student_only", "Only students can submit certificate requests")
	}
	if strings.TrimSpace(in.Purpose) == "" {
		return Request{}, apperr.New(apperr.Validation, "missing_fields", "purpose is required")
	}

	now := w.now()
	req := Request{
		StudentID:   p.UserID,
		StudentName: in.StudentName,
		USN:         in.USN,
		FatherName:  in.FatherName,
		Semester:    in.Semester,
		Year:        in.Year,
		Department:  in.Department,
		Purpose:     in.Purpose,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// Same-millisecond submissions by one student move to the next free
	// millisecond instead of overwriting each other.
	millis := now.UnixMilli()
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		req.ID = requestID(millis+int64(attempt), p.UserID)
		stored, err := kv.SetJSONIfAbsent(ctx, w.store, requestKey(req.ID), req)
		if err != nil {
			return Request{}, fmt.Errorf("store certificate request: %w", err)
		}
		if stored {
			w.metrics.RequestSubmitted()
			w.log.Info("certificate request submitted",
				zap.String("request_id", req.ID),
				zap.String("student_id", p.UserID),
			)
			return req, nil
		}
	}
	return Request{}, apperr.New(apperr.Conflict, "request_id_conflict", "Could not allocate a request id, try again")
}

// ListAll returns every request, newest first.
func (w *Workflow) ListAll(ctx context.Context, p auth.Principal) ([]Request, error) {
	if p.UserID == "" {
		return nil, apperr.Unauthenticated("unauthorized", "Unauthorized")
	}
	if w.opts.ListAllAdminOnly && !p.IsAdmin() {
		return nil, apperr.Forbidden("admin_only", "Admin access required")
	}
	return w.scan(ctx, func(Request) bool { return true })
}

// ListForStudent returns the caller's own requests, newest first. It scans
// every request.
func (w *Workflow) ListForStudent(ctx context.Context, p auth.Principal) ([]Request, error) {
	if p.UserID == "" {
		return nil, apperr.Unauthenticated("unauthorized", "Unauthorized")
	}
	return w.scan(ctx, func(r Request) bool { return r.StudentID == p.UserID })
}

func (w *Workflow) Get(ctx context.Context, p auth.Principal, id string) (Request, error) {
	if p.UserID == "" {
		return Request{}, apperr.Unauthenticated("unauthorized", "Unauthorized")
	}
	req, err := w.load(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if !p.IsAdmin() && req.StudentID != p.UserID {
		return Request{}, apperr.Forbidden("not_owner", "This request belongs to another student")
	}
	return req, nil
}

// SetStatus records an admin decision. Applying the status a request already
// has returns it unchanged; a decided request cannot be changed. The decision
// is written only if the stored request is still the one that was read, so
// processes sharing a store never both decide the same request.
func (w *Workflow) SetStatus(ctx context.Context, p auth.Principal, id string, status Status, reason string) (Request, error) {
	if p.UserID == "" {
		return Request{}, apperr.Unauthenticated("unauthorized", "Unauthorized")
	}
	if !p.IsAdmin() {
		return Request{}, apperr.Forbidden("admin_only", "Unauthorized - Admin access required")
	}
	if status != StatusApproved && status != StatusRejected {
		return Request{}, apperr.Validationf("invalid_status", "Status must be %q or %q", StatusApproved, StatusRejected)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for attempt := 0; attempt < maxDecisionAttempts; attempt++ {
		req, raw, err := w.loadRaw(ctx, id)
		if err != nil {
			return Request{}, err
		}
		if req.Status == status {
			return req, nil
		}
		if req.Status.Terminal() {
			return Request{}, apperr.New(apperr.Conflict, "status_final",
				fmt.Sprintf("Request is already %s", req.Status))
		}

		decided, err := w.decide(ctx, p, req, status, reason)
		if err != nil {
			return Request{}, err
		}
		data, err := json.Marshal(decided)
		if err != nil {
			return Request{}, fmt.Errorf("encode certificate request: %w", err)
		}
		swapped, err := w.store.CompareAndSwap(ctx, requestKey(id), raw, data)
		if err != nil {
			if decided.CertificateNumber != "" {
				w.log.Error("certificate number allocated but request not saved",
					zap.String("request_id", id),
					zap.String("certificate_number", decided.CertificateNumber),
					zap.Error(err),
				)
			}
			return Request{}, fmt.Errorf("update certificate request: %w", err)
		}
		if !swapped {
			if decided.CertificateNumber != "" {
				w.log.Warn("certificate number discarded, request changed concurrently",
					zap.String("request_id", id),
					zap.String("certificate_number", decided.CertificateNumber),
				)
			}
			continue
		}

		w.metrics.StatusTransition(string(status))
		w.log.Info("certificate request "+string(status),
			zap.String("request_id", id),
			zap.String("admin_id", p.UserID),
			zap.String("certificate_number", decided.CertificateNumber),
		)
		return decided, nil
	}
	return Request{}, apperr.New(apperr.Conflict, "request_changed", "Request changed while updating, try again")
}

func (w *Workflow) decide(ctx context.Context, p auth.Principal, req Request, status Status, reason string) (Request, error) {
	now := w.now()
	req.Status = status
	req.ReviewedBy = p.UserID
	req.UpdatedAt = now
	switch status {
	case StatusApproved:
		n, err := w.seq.Next(ctx)
		if err != nil {
			return Request{}, err
		}
		req.CertificateNumber = w.seq.Format(n, now.Year())
		approved := now
		req.ApprovedDate = &approved
		w.metrics.CertificateAllocated(n)
	case StatusRejected:
		req.RejectionReason = strings.TrimSpace(reason)
	}
	return req, nil
}

func (w *Workflow) load(ctx context.Context, id string) (Request, error) {
	req, _, err := w.loadRaw(ctx, id)
	return req, err
}

func (w *Workflow) loadRaw(ctx context.Context, id string) (Request, []byte, error) {
	if strings.TrimSpace(id) == "" {
		return Request{}, nil, notFound()
	}
	raw, err := w.store.Get(ctx, requestKey(id))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return Request{}, nil, notFound()
		}
		return Request{}, nil, fmt.Errorf("load certificate request: %w", err)
	}
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return Request{}, nil, fmt.Errorf("decode certificate request: %w", err)
	}
	return req, raw, nil
}

func (w *Workflow) scan(ctx context.Context, keep func(Request) bool) ([]Request, error) {
	entries, err := w.store.GetByPrefix(ctx, requestKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list certificate requests: %w", err)
	}
	out := make([]Request, 0, len(entries))
	for _, entry := range entries {
		var req Request
		if err := kv.DecodeJSON(entry, &req); err != nil {
			w.log.Warn("skip unreadable certificate request", zap.String("key", entry.Key), zap.Error(err))
			continue
		}
		if keep(req) {
			out = append(out, req)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func notFound() error {
	return apperr.Missing("request_not_found", "Request not found")
}
