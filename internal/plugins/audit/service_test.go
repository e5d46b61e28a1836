package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pchaisri/gearstock/internal/clock"
	"github.com/pchaisri/gearstock/internal/plugins/session"
)

// --- Mock Repository ---

// mockAuditRepo implements Repository for testing.
type mockAuditRepo struct {
	insertFn   func(ctx context.Context, event *Event) error
	listFn     func(ctx context.Context, actionType string, limit, offset int) ([]Event, int, error)
	getStatsFn func(ctx context.Context) (*Stats, error)
}

func (m *mockAuditRepo) Insert(ctx context.Context, event *Event) error {
	if m.insertFn != nil {
		return m.insertFn(ctx, event)
	}
	return nil
}

func (m *mockAuditRepo) List(ctx context.Context, actionType string, limit, offset int) ([]Event, int, error) {
	if m.listFn != nil {
		return m.listFn(ctx, actionType, limit, offset)
	}
	return nil, 0, nil
}

func (m *mockAuditRepo) GetStats(ctx context.Context) (*Stats, error) {
	if m.getStatsFn != nil {
		return m.getStatsFn(ctx)
	}
	return &Stats{}, nil
}

// --- Helpers ---

const testSecret = "audit-test-secret-at-least-32-chars!!"

func newTestCodec() (*session.Codec, *clock.Fake) {
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return session.NewCodec(testSecret, 7*24*time.Hour, clk), clk
}

// --- Record ---

func TestRecordSwallowsInsertFailure(t *testing.T) {
	repo := &mockAuditRepo{
		insertFn: func(ctx context.Context, event *Event) error {
			return errors.New("table is full")
		},
	}
	codec, _ := newTestCodec()
	svc := NewService(repo, codec)

	// Must not panic, must not propagate anything to the caller.
	svc.Record(context.Background(), RequestMeta{IP: "203.0.113.9"}, ActionLogin, nil, "", "user-1")
}

func TestRecordInsertsExactlyOneEvent(t *testing.T) {
	var inserted []*Event
	repo := &mockAuditRepo{
		insertFn: func(ctx context.Context, event *Event) error {
			inserted = append(inserted, event)
			return nil
		},
	}
	codec, _ := newTestCodec()
	svc := NewService(repo, codec)

	meta := RequestMeta{IP: "203.0.113.9", UserAgent: "curl/8.0", Location: "Bangkok, TH"}
	svc.Record(context.Background(), meta, ActionLoginFailed, map[string]any{"reason": "bad_pin"}, "user-7", "")

	if len(inserted) != 1 {
		t.Fatalf("expected exactly one insert, got %d", len(inserted))
	}
	event := inserted[0]
	if event.ActionType != ActionLoginFailed {
		t.Errorf("expected action %s, got %s", ActionLoginFailed, event.ActionType)
	}
	if event.TargetID != "user-7" {
		t.Errorf("expected target user-7, got %s", event.TargetID)
	}
	if event.IPAddress != "203.0.113.9" || event.UserAgent != "curl/8.0" || event.Location != "Bangkok, TH" {
		t.Errorf("request metadata not carried onto event: %+v", event)
	}
	if event.Details["reason"] != "bad_pin" {
		t.Errorf("expected details to carry reason, got %v", event.Details)
	}
}

func TestRecordActorResolutionOrder(t *testing.T) {
	codec, _ := newTestCodec()
	validToken := codec.Issue("token-user")

	tests := []struct {
		name     string
		meta     RequestMeta
		override string
		want     string
	}{
		{
			name:     "override wins over token and legacy",
			meta:     RequestMeta{Token: validToken, LegacyUserID: "legacy-user"},
			override: "override-user",
			want:     "override-user",
		},
		{
			name: "verified token wins over legacy",
			meta: RequestMeta{Token: validToken, LegacyUserID: "legacy-user"},
			want: "token-user",
		},
		{
			name: "invalid token falls back to legacy",
			meta: RequestMeta{Token: "user:12345:deadbeef", LegacyUserID: "legacy-user"},
			want: "legacy-user",
		},
		{
			name: "nothing resolves to empty actor",
			meta: RequestMeta{},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			repo := &mockAuditRepo{
				insertFn: func(ctx context.Context, event *Event) error {
					got = event.ActorID
					return nil
				},
			}
			svc := NewService(repo, codec)

			svc.Record(context.Background(), tt.meta, ActionLogout, nil, "", tt.override)

			if got != tt.want {
				t.Errorf("expected actor %q, got %q", tt.want, got)
			}
		})
	}
}

func TestRecordUnknownActionStillStored(t *testing.T) {
	var inserted int
	repo := &mockAuditRepo{
		insertFn: func(ctx context.Context, event *Event) error {
			inserted++
			return nil
		},
	}
	codec, _ := newTestCodec()
	svc := NewService(repo, codec)

	svc.Record(context.Background(), RequestMeta{}, "NOT_IN_CATALOG", nil, "", "user-1")

	if inserted != 1 {
		t.Errorf("off-catalog action should still be stored, got %d inserts", inserted)
	}
}

// --- ListEvents ---

func TestListEventsClampsPage(t *testing.T) {
	var gotLimit, gotOffset int
	repo := &mockAuditRepo{
		listFn: func(ctx context.Context, actionType string, limit, offset int) ([]Event, int, error) {
			gotLimit, gotOffset = limit, offset
			return []Event{}, 0, nil
		},
	}
	codec, _ := newTestCodec()
	svc := NewService(repo, codec)

	if _, _, err := svc.ListEvents(context.Background(), "", 0); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if gotLimit != 50 || gotOffset != 0 {
		t.Errorf("expected limit 50 offset 0 for clamped page, got %d/%d", gotLimit, gotOffset)
	}

	if _, _, err := svc.ListEvents(context.Background(), ActionLogin, 3); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if gotOffset != 100 {
		t.Errorf("expected offset 100 for page 3, got %d", gotOffset)
	}
}

func TestListEventsRepoError(t *testing.T) {
	repo := &mockAuditRepo{
		listFn: func(ctx context.Context, actionType string, limit, offset int) ([]Event, int, error) {
			return nil, 0, errors.New("timeout")
		},
	}
	codec, _ := newTestCodec()
	svc := NewService(repo, codec)

	if _, _, err := svc.ListEvents(context.Background(), "", 1); err == nil {
		t.Error("expected error from failing store")
	}
}

// --- GetStats ---

func TestGetStats(t *testing.T) {
	repo := &mockAuditRepo{
		getStatsFn: func(ctx context.Context) (*Stats, error) {
			return &Stats{TotalEvents: 42, FailedLogins24h: 7, LockedAccounts: 1}, nil
		},
	}
	codec, _ := newTestCodec()
	svc := NewService(repo, codec)

	stats, err := svc.GetStats(context.Background())
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if stats.TotalEvents != 42 || stats.FailedLogins24h != 7 || stats.LockedAccounts != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
