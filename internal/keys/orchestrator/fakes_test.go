package orchestrator_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"keyclaims/internal/keys/directory"
	"keyclaims/internal/keys/models"
	"keyclaims/internal/keys/orchestrator"
	claimstore "keyclaims/internal/keys/store/claim"
	keystore "keyclaims/internal/keys/store/key"
	"keyclaims/pkg/domain"
	"keyclaims/pkg/requestcontext"
)

const testCallbackTopic = "directory-callbacks"

// fakeGateway records every directory call and fails with err when set.
type fakeGateway struct {
	mu        sync.Mutex
	calls     []string
	claimRefs []directory.ClaimRef
	err       error

	claimResult *directory.ClaimResult
}

func (g *fakeGateway) record(op string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, op)
}

func (g *fakeGateway) recordRef(op string, ref directory.ClaimRef) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, op)
	g.claimRefs = append(g.claimRefs, ref)
}

func (g *fakeGateway) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

// ClaimRefs returns the references passed to claim-scoped directory calls,
// in call order.
func (g *fakeGateway) ClaimRefs() []directory.ClaimRef {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]directory.ClaimRef(nil), g.claimRefs...)
}

func (g *fakeGateway) CreateOwnershipClaim(ctx context.Context, req directory.ClaimRequest) (*directory.ClaimResult, error) {
	g.record("CreateOwnershipClaim")
	if g.err != nil {
		return nil, g.err
	}
	return g.claimResult, nil
}

func (g *fakeGateway) CreatePortabilityClaim(ctx context.Context, req directory.ClaimRequest) (*directory.ClaimResult, error) {
	g.record("CreatePortabilityClaim")
	if g.err != nil {
		return nil, g.err
	}
	return g.claimResult, nil
}

func (g *fakeGateway) FinishClaim(ctx context.Context, ref directory.ClaimRef) (*directory.ClaimResult, error) {
	g.recordRef("FinishClaim", ref)
	if g.err != nil {
		return nil, g.err
	}
	return g.claimResult, nil
}

func (g *fakeGateway) DenyClaim(ctx context.Context, ref directory.ClaimRef) error {
	g.recordRef("DenyClaim", ref)
	return g.err
}

func (g *fakeGateway) CancelPortabilityClaim(ctx context.Context, ref directory.ClaimRef) error {
	g.recordRef("CancelPortabilityClaim", ref)
	return g.err
}

func (g *fakeGateway) RegisterKey(ctx context.Context, req directory.KeyRequest) error {
	g.record("RegisterKey")
	return g.err
}

func (g *fakeGateway) DeleteKey(ctx context.Context, req directory.KeyRequest) error {
	g.record("DeleteKey")
	return g.err
}

// fakeEmitter records emitted events.
type fakeEmitter struct {
	mu     sync.Mutex
	events []models.Event
	err    error
}

func (e *fakeEmitter) Emit(ctx context.Context, event models.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.events = append(e.events, event)
	return nil
}

func (e *fakeEmitter) Events() []models.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.Event(nil), e.events...)
}

// fakeDeadLetters records routed payloads by topic.
type fakeDeadLetters struct {
	mu       sync.Mutex
	routed   []string
	payloads [][]byte
}

func (d *fakeDeadLetters) Route(ctx context.Context, topic string, payload []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.routed = append(d.routed, topic)
	d.payloads = append(d.payloads, payload)
	return nil
}

func (d *fakeDeadLetters) Routed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.routed...)
}

// fixture bundles the orchestrator with its collaborators for assertions.
type fixture struct {
	orch        *orchestrator.Orchestrator
	keys        *keystore.InMemory
	claims      *claimstore.InMemory
	gateway     *fakeGateway
	emitter     *fakeEmitter
	deadLetters *fakeDeadLetters
	now         time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		keys:        keystore.NewInMemory(),
		claims:      claimstore.NewInMemory(),
		gateway:     &fakeGateway{},
		emitter:     &fakeEmitter{},
		deadLetters: &fakeDeadLetters{},
		now:         time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC),
	}
	f.orch = orchestrator.New(orchestrator.Config{
		Keys:            f.keys,
		Claims:          f.claims,
		Gateway:         f.gateway,
		Emitter:         f.emitter,
		DeadLetters:     f.deadLetters,
		Logger:          slog.New(slog.DiscardHandler),
		CallbackTopic:   testCallbackTopic,
		ExpiryThreshold: 7 * 24 * time.Hour,
	})
	return f
}

// ctx pins the clock so transitions observe a deterministic time.
func (f *fixture) ctx() context.Context {
	return requestcontext.WithTime(context.Background(), f.now)
}

// seedKey stores a key in the given state, optionally with an open claim
// attached.
func (f *fixture) seedKey(t *testing.T, state models.KeyState, withClaim models.ClaimType) *models.Key {
	t.Helper()

	opened := f.now.Add(-time.Hour)
	key, err := models.NewKey("alias@example.com", models.KindEmail, domain.NewAccountID(), opened)
	if err != nil {
		t.Fatalf("new key: %v", err)
	}
	key.State = state

	if withClaim != "" {
		claim, err := models.NewClaim(key.Value, withClaim, "11111111", "22222222", opened)
		if err != nil {
			t.Fatalf("new claim: %v", err)
		}
		if err := f.claims.Create(context.Background(), claim); err != nil {
			t.Fatalf("create claim: %v", err)
		}
		key.AttachClaim(claim.ID, opened)
	}

	if err := f.keys.Create(context.Background(), key); err != nil {
		t.Fatalf("create key: %v", err)
	}
	return key
}
