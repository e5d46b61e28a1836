package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/pchaisri/gearstock/internal/apperror"
	"github.com/pchaisri/gearstock/internal/clock"
	"github.com/pchaisri/gearstock/internal/plugins/audit"
	"github.com/pchaisri/gearstock/internal/plugins/ratelimit"
	"github.com/pchaisri/gearstock/internal/plugins/session"
)

// --- Mock Repository ---

// mockAccountRepo implements Repository for testing.
type mockAccountRepo struct {
	mu sync.Mutex

	createFn              func(ctx context.Context, account *Account) error
	findByIDFn            func(ctx context.Context, id string) (*Account, error)
	findByPhoneFn         func(ctx context.Context, phone string) (*Account, error)
	phoneExistsFn         func(ctx context.Context, phone string) (bool, error)
	recordFailedAttemptFn func(ctx context.Context, id string) (int, error)
	resetLoginStateFn     func(ctx context.Context, id string) error
	recordLoginFn         func(ctx context.Context, id string, at time.Time) error
	setLockFn             func(ctx context.Context, id string, until time.Time) error
	setActiveSessionFn    func(ctx context.Context, id, sessionID string) error
	setApprovalFn         func(ctx context.Context, id string, approved bool) error
	setRoleFn             func(ctx context.Context, id, role string) error
	listFn                func(ctx context.Context) ([]Account, error)

	// bookkeeping for the stateful login tests
	failedAttempts int
	lockedUntil    *time.Time
	activeSession  string
	lastLoginAt    *time.Time
}

func (m *mockAccountRepo) Create(ctx context.Context, account *Account) error {
	if m.createFn != nil {
		return m.createFn(ctx, account)
	}
	return nil
}

func (m *mockAccountRepo) FindByID(ctx context.Context, id string) (*Account, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, apperror.NewNotFound("account not found")
}

func (m *mockAccountRepo) FindByPhone(ctx context.Context, phone string) (*Account, error) {
	if m.findByPhoneFn != nil {
		return m.findByPhoneFn(ctx, phone)
	}
	return nil, apperror.NewNotFound("account not found")
}

func (m *mockAccountRepo) PhoneExists(ctx context.Context, phone string) (bool, error) {
	if m.phoneExistsFn != nil {
		return m.phoneExistsFn(ctx, phone)
	}
	return false, nil
}

func (m *mockAccountRepo) RecordFailedAttempt(ctx context.Context, id string) (int, error) {
	if m.recordFailedAttemptFn != nil {
		return m.recordFailedAttemptFn(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failedAttempts++
	return m.failedAttempts, nil
}

func (m *mockAccountRepo) ResetLoginState(ctx context.Context, id string) error {
	if m.resetLoginStateFn != nil {
		return m.resetLoginStateFn(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failedAttempts = 0
	m.lockedUntil = nil
	return nil
}

func (m *mockAccountRepo) RecordLogin(ctx context.Context, id string, at time.Time) error {
	if m.recordLoginFn != nil {
		return m.recordLoginFn(ctx, id, at)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLoginAt = &at
	return nil
}

func (m *mockAccountRepo) SetLock(ctx context.Context, id string, until time.Time) error {
	if m.setLockFn != nil {
		return m.setLockFn(ctx, id, until)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockedUntil = &until
	return nil
}

func (m *mockAccountRepo) SetActiveSession(ctx context.Context, id, sessionID string) error {
	if m.setActiveSessionFn != nil {
		return m.setActiveSessionFn(ctx, id, sessionID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeSession = sessionID
	return nil
}

func (m *mockAccountRepo) SetApproval(ctx context.Context, id string, approved bool) error {
	if m.setApprovalFn != nil {
		return m.setApprovalFn(ctx, id, approved)
	}
	return nil
}

func (m *mockAccountRepo) SetRole(ctx context.Context, id, role string) error {
	if m.setRoleFn != nil {
		return m.setRoleFn(ctx, id, role)
	}
	return nil
}

func (m *mockAccountRepo) List(ctx context.Context) ([]Account, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

// --- Mock Auditor ---

// recordedEvent captures one Record call for assertions.
type recordedEvent struct {
	action   string
	targetID string
	actorID  string
	details  map[string]any
}

// mockAuditor implements audit.Service for testing.
type mockAuditor struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (m *mockAuditor) Record(ctx context.Context, meta audit.RequestMeta, actionType string, details map[string]any, targetID, overrideActorID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, recordedEvent{
		action:   actionType,
		targetID: targetID,
		actorID:  overrideActorID,
		details:  details,
	})
}

func (m *mockAuditor) ListEvents(ctx context.Context, actionType string, page int) ([]audit.Event, int, error) {
	return nil, 0, nil
}

func (m *mockAuditor) GetStats(ctx context.Context) (*audit.Stats, error) {
	return nil, nil
}

func (m *mockAuditor) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.action
	}
	return out
}

// --- Mock IP gate ---

// mockIPGate implements IPGate for testing.
type mockIPGate struct {
	blocked bool
}

func (m *mockIPGate) Blocked(ctx context.Context, ip string) bool { return m.blocked }

// --- Fixture ---

const (
	testSecret = "auth-test-secret-at-least-32-chars!!!"
	testPhone  = "0812345678"
	testPIN    = "123456"
)

// testPinHash is computed once; bcrypt at default cost is slow enough to
// matter across the table-driven tests.
var testPinHash = func() string {
	hash, err := bcrypt.GenerateFromPassword([]byte(testPIN), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	return string(hash)
}()

// fixture wires a service over mocks with a fake clock.
type fixture struct {
	svc     Service
	repo    *mockAccountRepo
	auditor *mockAuditor
	gate    *mockIPGate
	clk     *clock.Fake
	lockout *Lockout
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	repo := &mockAccountRepo{}
	auditor := &mockAuditor{}
	gate := &mockIPGate{}

	limiter := ratelimit.New(ratelimit.NewMemoryStore(clk), 5, 15*time.Minute)
	lockout := NewLockout(repo, 10, 30*time.Minute, clk)
	codec := session.NewCodec(testSecret, 7*24*time.Hour, clk)

	return &fixture{
		svc:     NewService(repo, limiter, gate, lockout, codec, auditor, clk),
		repo:    repo,
		auditor: auditor,
		gate:    gate,
		clk:     clk,
		lockout: lockout,
	}
}

// approvedAccount returns a login-ready account backed by the fixture's
// stateful mock fields.
func (f *fixture) approvedAccount() *Account {
	f.repo.findByPhoneFn = func(ctx context.Context, phone string) (*Account, error) {
		if phone != testPhone {
			return nil, apperror.NewNotFound("account not found")
		}
		f.repo.mu.Lock()
		defer f.repo.mu.Unlock()
		return &Account{
			ID:                  "user-1",
			Phone:               testPhone,
			PinHash:             testPinHash,
			Role:                RoleStaff,
			IsApproved:          true,
			FailedLoginAttempts: f.repo.failedAttempts,
			LockedUntil:         f.repo.lockedUntil,
			ActiveSessionID:     f.repo.activeSession,
		}, nil
	}
	return &Account{ID: "user-1", Phone: testPhone, PinHash: testPinHash, Role: RoleStaff, IsApproved: true}
}

func loginMeta() audit.RequestMeta {
	return audit.RequestMeta{IP: "203.0.113.9", UserAgent: "test"}
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	appErr, ok := err.(*apperror.AppError)
	if !ok {
		t.Fatalf("expected AppError, got %v", err)
	}
	return appErr.Code
}

// --- Login ---

func TestLoginSuccess(t *testing.T) {
	f := newFixture(t)
	f.approvedAccount()

	result, err := f.svc.Login(context.Background(), loginMeta(), LoginInput{Phone: testPhone, PIN: testPIN})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if result.UserID != "user-1" || result.Role != RoleStaff {
		t.Errorf("unexpected result identity: %+v", result)
	}
	if result.Token == "" || result.SessionID == "" {
		t.Error("expected token and session id to be issued")
	}
	if f.repo.activeSession != result.SessionID {
		t.Errorf("active session not recorded: have %q want %q", f.repo.activeSession, result.SessionID)
	}
	if f.repo.lastLoginAt == nil || !f.repo.lastLoginAt.Equal(f.clk.Now()) {
		t.Errorf("expected last login stamped at %v, got %v", f.clk.Now(), f.repo.lastLoginAt)
	}
	if actions := f.auditor.actions(); len(actions) != 1 || actions[0] != audit.ActionLogin {
		t.Errorf("expected one LOGIN event, got %v", actions)
	}
}

func TestLoginWrongPIN(t *testing.T) {
	f := newFixture(t)
	f.approvedAccount()

	_, err := f.svc.Login(context.Background(), loginMeta(), LoginInput{Phone: testPhone, PIN: "000000"})
	if statusOf(t, err) != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", err)
	}
	if f.repo.failedAttempts != 1 {
		t.Errorf("expected one recorded failure, got %d", f.repo.failedAttempts)
	}
	if actions := f.auditor.actions(); len(actions) != 1 || actions[0] != audit.ActionLoginFailed {
		t.Errorf("expected one LOGIN_FAILED event, got %v", actions)
	}
}

func TestLoginUnknownPhoneGenericMessage(t *testing.T) {
	f := newFixture(t)
	f.approvedAccount()

	_, err := f.svc.Login(context.Background(), loginMeta(), LoginInput{Phone: "0899999999", PIN: testPIN})
	if statusOf(t, err) != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}

	// Same message as a wrong PIN: existence of the phone must not leak.
	_, pinErr := f.svc.Login(context.Background(), loginMeta(), LoginInput{Phone: testPhone, PIN: "000000"})
	if err.Error() != pinErr.Error() {
		t.Errorf("unknown-phone and wrong-PIN messages differ: %q vs %q", err, pinErr)
	}
}

func TestLoginRateLimited(t *testing.T) {
	f := newFixture(t)
	f.approvedAccount()

	// Burn the 5-attempt budget with wrong PINs.
	for i := 0; i < 5; i++ {
		f.svc.Login(context.Background(), loginMeta(), LoginInput{Phone: testPhone, PIN: "000000"})
	}

	// Sixth attempt is throttled even with the right PIN.
	_, err := f.svc.Login(context.Background(), loginMeta(), LoginInput{Phone: testPhone, PIN: testPIN})
	if statusOf(t, err) != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}

	// A different IP has its own budget.
	otherIP := audit.RequestMeta{IP: "198.51.100.2"}
	if _, err := f.svc.Login(context.Background(), otherIP, LoginInput{Phone: testPhone, PIN: testPIN}); err != nil {
		t.Errorf("other IP should not share the budget, got %v", err)
	}

	// The window lapses.
	f.clk.Advance(16 * time.Minute)
	f.repo.activeSession = ""
	if _, err := f.svc.Login(context.Background(), loginMeta(), LoginInput{Phone: testPhone, PIN: testPIN}); err != nil {
		t.Errorf("expected success after window lapse, got %v", err)
	}
}

func TestLoginBlockedIP(t *testing.T) {
	f := newFixture(t)
	f.approvedAccount()
	f.gate.blocked = true

	_, err := f.svc.Login(context.Background(), loginMeta(), LoginInput{Phone: testPhone, PIN: testPIN})
	if statusOf(t, err) != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
	if actions := f.auditor.actions(); len(actions) != 1 || actions[0] != audit.ActionIPBlockedLogin {
		t.Errorf("expected one IP_BLOCKED_LOGIN event, got %v", actions)
	}
}

func TestLoginUnapprovedAccount(t *testing.T) {
	f := newFixture(t)
	f.repo.findByPhoneFn = func(ctx context.Context, phone string) (*Account, error) {
		return &Account{ID: "user-2", Phone: testPhone, PinHash: testPinHash, Role: RoleStaff, IsApproved: false}, nil
	}

	_, err := f.svc.Login(context.Background(), loginMeta(), LoginInput{Phone: testPhone, PIN: testPIN})
	if statusOf(t, err) != http.StatusForbidden {
		t.Errorf("expected 403 for unapproved account, got %v", err)
	}

	// Wrong PIN on an unapproved account still reads as bad credentials,
	// not as "exists but unapproved".
	_, err = f.svc.Login(context.Background(), loginMeta(), LoginInput{Phone: testPhone, PIN: "000000"})
	if statusOf(t, err) != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong PIN on unapproved account, got %v", err)
	}
}

func TestLoginLockoutAfterTenFailures(t *testing.T) {
	f := newFixture(t)
	f.approvedAccount()

	var lastErr error
	for i := 0; i < 10; i++ {
		// Spread attempts across windows so the rate limiter never
		// interferes with the lockout under test.
		_, lastErr = f.svc.Login(context.Background(), loginMeta(), LoginInput{Phone: testPhone, PIN: "000000"})
		f.clk.Advance(16 * time.Minute)
	}

	// The tenth failure trips the lock.
	if statusOf(t, lastErr) != http.StatusLocked {
		t.Fatalf("expected 423 on tenth failure, got %v", lastErr)
	}
	if f.repo.lockedUntil == nil {
		t.Fatal("expected lock to be recorded")
	}

	// Even the correct PIN is rejected while locked.
	_, err := f.svc.Login(context.Background(), loginMeta(), LoginInput{Phone: testPhone, PIN: testPIN})
	if statusOf(t, err) != http.StatusLocked {
		t.Errorf("expected 423 while locked, got %v", err)
	}

	// After the lock lapses, login succeeds again.
	f.clk.Advance(31 * time.Minute)
	if _, err := f.svc.Login(context.Background(), loginMeta(), LoginInput{Phone: testPhone, PIN: testPIN}); err != nil {
		t.Errorf("expected success after lock lapse, got %v", err)
	}
	if f.repo.failedAttempts != 0 {
		t.Errorf("expected failure counter reset on success, got %d", f.repo.failedAttempts)
	}
}

func TestLoginWarnsNearLockout(t *testing.T) {
	f := newFixture(t)
	f.approvedAccount()

	for i := 1; i <= 8; i++ {
		_, err := f.svc.Login(context.Background(), loginMeta(), LoginInput{Phone: testPhone, PIN: "000000"})
		f.clk.Advance(16 * time.Minute)

		attemptsLeft := 10 - i
		warned := strings.Contains(err.Error(), "remaining")
		if attemptsLeft <= 3 && !warned {
			t.Errorf("failure %d: expected remaining-attempts warning, got %q", i, err)
		}
		if attemptsLeft > 3 && warned {
			t.Errorf("failure %d: warning leaked too early: %q", i, err)
		}
		if warned && !strings.Contains(err.Error(), fmt.Sprintf("%d attempts", attemptsLeft)) {
			t.Errorf("failure %d: expected %d attempts in message, got %q", i, attemptsLeft, err)
		}
	}
}

func TestLoginSupersedesOlderSession(t *testing.T) {
	f := newFixture(t)
	f.approvedAccount()

	first, err := f.svc.Login(context.Background(), loginMeta(), LoginInput{Phone: testPhone, PIN: testPIN})
	if err != nil {
		t.Fatalf("first login failed: %v", err)
	}

	second, err := f.svc.Login(context.Background(), audit.RequestMeta{IP: "198.51.100.2"}, LoginInput{Phone: testPhone, PIN: testPIN})
	if err != nil {
		t.Fatalf("second login failed: %v", err)
	}

	if first.SessionID == second.SessionID {
		t.Error("expected distinct session ids per login")
	}
	if f.repo.activeSession != second.SessionID {
		t.Error("expected the newer login to own the active session")
	}
}

// --- Register ---

func TestRegisterCreatesUnapprovedStaff(t *testing.T) {
	f := newFixture(t)
	var created *Account
	f.repo.createFn = func(ctx context.Context, account *Account) error {
		created = account
		return nil
	}

	account, err := f.svc.Register(context.Background(), loginMeta(), RegisterInput{
		Phone:    "0812345678",
		FullName: "Somchai P.",
		PIN:      "4321",
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if account.Role != RoleStaff || account.IsApproved {
		t.Errorf("new accounts must be unapproved staff, got %+v", account)
	}
	if created == nil || created.PinHash == "4321" || created.PinHash == "" {
		t.Error("PIN must be stored hashed")
	}
	if bcrypt.CompareHashAndPassword([]byte(created.PinHash), []byte("4321")) != nil {
		t.Error("stored hash does not verify the PIN")
	}
	if actions := f.auditor.actions(); len(actions) != 1 || actions[0] != audit.ActionRegister {
		t.Errorf("expected one REGISTER event, got %v", actions)
	}
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		input RegisterInput
	}{
		{"bad phone", RegisterInput{Phone: "12345", FullName: "X", PIN: "1234"}},
		{"phone with letters", RegisterInput{Phone: "08abc45678", FullName: "X", PIN: "1234"}},
		{"short pin", RegisterInput{Phone: "0812345678", FullName: "X", PIN: "12"}},
		{"alpha pin", RegisterInput{Phone: "0812345678", FullName: "X", PIN: "abcd"}},
		{"missing name", RegisterInput{Phone: "0812345678", FullName: "  ", PIN: "1234"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Register(context.Background(), loginMeta(), tt.input)
			if statusOf(t, err) != http.StatusUnprocessableEntity {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestRegisterDuplicatePhone(t *testing.T) {
	f := newFixture(t)
	f.repo.phoneExistsFn = func(ctx context.Context, phone string) (bool, error) {
		return true, nil
	}

	_, err := f.svc.Register(context.Background(), loginMeta(), RegisterInput{
		Phone: "0812345678", FullName: "X", PIN: "1234",
	})
	if statusOf(t, err) != http.StatusConflict {
		t.Errorf("expected 409, got %v", err)
	}
}

// --- Admin operations ---

func adminSession() *Session {
	return &Session{UserID: "admin-1", Role: RoleAdmin, SessionID: "sess-a"}
}

func TestAdminOpsRequireAdmin(t *testing.T) {
	f := newFixture(t)
	staff := &Session{UserID: "staff-1", Role: RoleStaff}
	ctx := context.Background()
	meta := loginMeta()

	checks := []struct {
		name string
		call func() error
	}{
		{"SetApproval", func() error { return f.svc.SetApproval(ctx, staff, meta, "t", true) }},
		{"UpdateRole", func() error { return f.svc.UpdateRole(ctx, staff, meta, "t", RoleAdmin) }},
		{"Unlock", func() error { return f.svc.Unlock(ctx, staff, meta, "t") }},
		{"ForceLogout", func() error { return f.svc.ForceLogout(ctx, staff, meta, "t") }},
		{"ListAccounts", func() error { _, err := f.svc.ListAccounts(ctx, staff); return err }},
	}

	for _, check := range checks {
		if statusOf(t, check.call()) != http.StatusForbidden {
			t.Errorf("%s: expected forbidden for staff actor", check.name)
		}
	}
}

func TestRevokeKillsActiveSession(t *testing.T) {
	f := newFixture(t)
	var clearedFor string
	f.repo.setActiveSessionFn = func(ctx context.Context, id, sessionID string) error {
		if sessionID == "" {
			clearedFor = id
		}
		return nil
	}

	if err := f.svc.SetApproval(context.Background(), adminSession(), loginMeta(), "user-9", false); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if clearedFor != "user-9" {
		t.Error("revocation should clear the target's active session")
	}
	if actions := f.auditor.actions(); len(actions) != 1 || actions[0] != audit.ActionRevokeUser {
		t.Errorf("expected one REVOKE_USER event, got %v", actions)
	}
}

func TestAdminCannotTouchOwnStanding(t *testing.T) {
	f := newFixture(t)
	actor := adminSession()

	if err := f.svc.SetApproval(context.Background(), actor, loginMeta(), actor.UserID, false); err == nil {
		t.Error("expected self-revocation to be rejected")
	}
	if err := f.svc.UpdateRole(context.Background(), actor, loginMeta(), actor.UserID, RoleStaff); err == nil {
		t.Error("expected self-demotion to be rejected")
	}
}

func TestUpdateRoleValidatesRole(t *testing.T) {
	f := newFixture(t)

	err := f.svc.UpdateRole(context.Background(), adminSession(), loginMeta(), "user-9", "superuser")
	if statusOf(t, err) != http.StatusUnprocessableEntity {
		t.Errorf("expected validation error for unknown role, got %v", err)
	}
}

func TestUnlockResetsState(t *testing.T) {
	f := newFixture(t)
	var resetFor string
	f.repo.resetLoginStateFn = func(ctx context.Context, id string) error {
		resetFor = id
		return nil
	}

	if err := f.svc.Unlock(context.Background(), adminSession(), loginMeta(), "user-9"); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if resetFor != "user-9" {
		t.Error("unlock should reset the target's login state")
	}
	if actions := f.auditor.actions(); len(actions) != 1 || actions[0] != audit.ActionAccountUnlocked {
		t.Errorf("expected one ACCOUNT_UNLOCKED event, got %v", actions)
	}
}
