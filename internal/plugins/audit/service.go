package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pchaisri/gearstock/internal/apperror"
	"github.com/pchaisri/gearstock/internal/plugins/session"
)

// perPage is the number of events shown per page in the log feed.
const perPage = 50

// Service records and queries the audit trail.
type Service interface {
	// Record appends one event. The actor is resolved in order:
	// overrideActorID (for flows where the acting identity isn't
	// cookie-bound yet, e.g. login/registration), then the verified
	// session token in meta, then the legacy plain-id cookie.
	//
	// Record never fails the caller: storage errors are logged and
	// swallowed. targetID and overrideActorID may be empty.
	Record(ctx context.Context, meta RequestMeta, actionType string, details map[string]any, targetID, overrideActorID string)

	// ListEvents returns a page of the log feed, optionally filtered by
	// action type. Returns events, total count, and any error.
	ListEvents(ctx context.Context, actionType string, page int) ([]Event, int, error)

	// GetStats returns the security dashboard aggregates.
	GetStats(ctx context.Context) (*Stats, error)
}

// service implements Service.
type service struct {
	repo  Repository
	codec *session.Codec
}

// NewService creates an audit service. The codec resolves actors from
// session tokens carried in RequestMeta.
func NewService(repo Repository, codec *session.Codec) Service {
	return &service{repo: repo, codec: codec}
}

// Record appends one event, swallowing any storage failure.
func (s *service) Record(ctx context.Context, meta RequestMeta, actionType string, details map[string]any, targetID, overrideActorID string) {
	if !KnownAction(actionType) {
		// Call sites emit catalog constants; anything else is a bug worth
		// surfacing, but the event is still worth keeping.
		slog.Warn("audit action outside catalog", slog.String("action", actionType))
	}

	event := &Event{
		ActionType: actionType,
		ActorID:    s.resolveActor(meta, overrideActorID),
		TargetID:   targetID,
		Details:    details,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
		Location:   meta.Location,
		Latitude:   meta.Latitude,
		Longitude:  meta.Longitude,
	}

	if event.ActorID == "" {
		slog.Warn("recording audit event without actor", slog.String("action", actionType))
	}

	if err := s.repo.Insert(ctx, event); err != nil {
		// Hard contract: a logging failure must never fail the caller's
		// primary operation. Diagnostic channel only.
		slog.Error("failed to write audit event",
			slog.String("action", actionType),
			slog.String("ip", meta.IP),
			slog.Any("error", err),
		)
	}
}

// resolveActor picks the acting identity: explicit override, then the
// verified session token, then the legacy cookie as last resort.
func (s *service) resolveActor(meta RequestMeta, override string) string {
	if override != "" {
		return override
	}
	if meta.Token != "" {
		if id, err := s.codec.Verify(meta.Token); err == nil {
			return id.UserID
		}
	}
	return meta.LegacyUserID
}

// ListEvents returns a page of the log feed. Pages are 1-indexed; invalid
// page numbers are clamped to 1.
func (s *service) ListEvents(ctx context.Context, actionType string, page int) ([]Event, int, error) {
	if page < 1 {
		page = 1
	}

	offset := (page - 1) * perPage
	events, total, err := s.repo.List(ctx, actionType, perPage, offset)
	if err != nil {
		return nil, 0, apperror.NewInternal(fmt.Errorf("listing audit events: %w", err))
	}

	return events, total, nil
}

// GetStats returns the security dashboard aggregates.
func (s *service) GetStats(ctx context.Context) (*Stats, error) {
	stats, err := s.repo.GetStats(ctx)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("getting audit stats: %w", err))
	}
	return stats, nil
}
