package refund

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mwork/booking-ledger/internal/domain/ledger"
	"github.com/mwork/booking-ledger/internal/pkg/fieldaction"
	"github.com/mwork/booking-ledger/internal/pkg/gateway"
	"github.com/mwork/booking-ledger/internal/pkg/kv"
	"github.com/mwork/booking-ledger/internal/pkg/queue"
	"github.com/mwork/booking-ledger/internal/pkg/sequence"
	"github.com/mwork/booking-ledger/internal/pkg/storage"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []queue.RefundMessage
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, msg queue.RefundMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

// drain returns and clears published messages.
func (p *fakePublisher) drain() []queue.RefundMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.msgs
	p.msgs = nil
	return out
}

type fakeGateway struct {
	mu       sync.Mutex
	calls    []gateway.RefundRequest
	declined bool
	err      error
	// during runs inside the call, before the gateway answers
	during func()
}

func (g *fakeGateway) Refund(_ context.Context, r gateway.RefundRequest) (*gateway.RefundResult, error) {
	if g.during != nil {
		g.during()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, r)
	if g.err != nil {
		return nil, g.err
	}
	if g.declined {
		return &gateway.RefundResult{Approved: false, Message: "card closed", Raw: []byte(`{"approved":false}`)}, nil
	}
	trn := "GW-" + r.RefundID
	return &gateway.RefundResult{Approved: true, TrnID: trn, Raw: []byte(`{"approved":true,"trnId":"` + trn + `"}`)}, nil
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type harness struct {
	t          *testing.T
	store      kv.Store
	clock      *testClock
	ledgers    *ledger.Service
	ledgerRepo *ledger.Repository
	repo       *Repository
	svc        *Service
	proc       *Processor
	pub        *fakePublisher
	gw         *fakeGateway
}

type harnessOption func(*harnessOptions)

type harnessOptions struct {
	wrap    func(*kv.BoltStore) kv.Store
	archive storage.Archive
}

func withStore(wrap func(*kv.BoltStore) kv.Store) harnessOption {
	return func(o *harnessOptions) { o.wrap = wrap }
}

func withArchive(a storage.Archive) harnessOption {
	return func(o *harnessOptions) { o.archive = a }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	var o harnessOptions
	for _, opt := range opts {
		opt(&o)
	}

	bolt, err := kv.NewBoltStore(filepath.Join(t.TempDir(), "refunds.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { bolt.Close() })

	var store kv.Store = bolt
	if o.wrap != nil {
		store = o.wrap(bolt)
	}

	clock := &testClock{now: time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)}
	compiler := fieldaction.NewCompiler(clock.Now)
	allocator := sequence.NewAllocator(store)
	ledgerRepo := ledger.NewRepository(store)
	repo := NewRepository(store)
	pub := &fakePublisher{}
	gw := &fakeGateway{}

	return &harness{
		t:          t,
		store:      store,
		clock:      clock,
		ledgers:    ledger.NewService(ledgerRepo, allocator, compiler, false),
		ledgerRepo: ledgerRepo,
		repo:       repo,
		svc:        NewService(store, ledgerRepo, repo, allocator, compiler, pub, Config{IdempotencyWindow: 3 * time.Minute}),
		proc:       NewProcessor(store, ledgerRepo, repo, compiler, gw, o.archive, ProcessorConfig{GatewayTimeout: time.Second}),
		pub:        pub,
		gw:         gw,
	}
}

// paidTransaction creates a captured transaction owned by a fresh user.
func (h *harness) paidTransaction(amount int64) (*ledger.Transaction, uuid.UUID) {
	h.t.Helper()
	ctx := context.Background()
	owner := uuid.New()
	txn, err := h.ledgers.CreateTransaction(ctx, ledger.CreateInput{
		UserID:   owner,
		Amount:   decimal.NewFromInt(amount),
		Currency: "EUR",
		TrnID:    "PAY-" + owner.String()[:8],
	})
	if err != nil {
		h.t.Fatalf("create transaction: %v", err)
	}
	txn, err = h.ledgers.MarkPaid(ctx, txn.ID, txn.TrnID)
	if err != nil {
		h.t.Fatalf("mark paid: %v", err)
	}
	return txn, owner
}

func (h *harness) refund(owner uuid.UUID, txnID string, amount float64) (*Result, error) {
	return h.svc.RequestRefund(context.Background(), Request{
		UserID:        owner,
		TransactionID: txnID,
		Amount:        decimal.NewFromFloat(amount),
	})
}

// settleAll runs every queued job through the processor and fails on error.
func (h *harness) settleAll() {
	h.t.Helper()
	for _, msg := range h.pub.drain() {
		if err := h.proc.Handle(context.Background(), msg); err != nil {
			h.t.Fatalf("settle %s: %v", msg.RefundTransactionID, err)
		}
	}
}

func (h *harness) transaction(id string) *ledger.Transaction {
	h.t.Helper()
	txn, err := h.ledgerRepo.GetByID(context.Background(), id)
	if err != nil {
		h.t.Fatalf("load transaction %s: %v", id, err)
	}
	return txn
}

func (h *harness) refundRecord(id string) *Refund {
	h.t.Helper()
	rf, err := h.repo.GetByID(context.Background(), id)
	if err != nil {
		h.t.Fatalf("load refund %s: %v", id, err)
	}
	return rf
}

func (h *harness) refundsOf(txn *ledger.Transaction) []*Refund {
	h.t.Helper()
	out, err := h.repo.ListForTransaction(context.Background(), txn.PartitionKey, txn.ID)
	if err != nil {
		h.t.Fatalf("list refunds: %v", err)
	}
	return out
}
