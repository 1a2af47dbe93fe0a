package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/mwork/booking-ledger/internal/config"
	"github.com/mwork/booking-ledger/internal/domain/ledger"
	"github.com/mwork/booking-ledger/internal/domain/refund"
	"github.com/mwork/booking-ledger/internal/pkg/jwt"
	"github.com/mwork/booking-ledger/internal/pkg/kv"
	"github.com/mwork/booking-ledger/internal/pkg/queue"
)

var testNow = time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)

type brokenPublisher struct{}

func (brokenPublisher) Publish(context.Context, queue.RefundMessage) error {
	return errors.New("queue unavailable")
}

func newTestApp(t *testing.T) (*app, *kv.BoltStore, *queue.RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	store, err := kv.NewBoltStore(filepath.Join(t.TempDir(), "ledgerctl.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	rq := queue.NewRedisQueue(client, "test:refund-jobs", 3, 0)

	cfg := &config.Config{JWTSecret: "ledgerctl-secret", JWTAccessTTL: time.Hour, IdempotencyWindow: 3 * time.Minute}
	a := &app{
		cfg: cfg,
		now: func() time.Time { return testNow },
		openStore: func(context.Context) (kv.Store, func(), error) {
			return store, func() {}, nil
		},
		openQueue: func(context.Context) (queue.Queue, func(), error) {
			return rq, func() {}, nil
		},
	}
	return a, store, rq, mr
}

func run(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	a.out = &out
	cmd := newRootCmd(a)
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.Execute()
	return out.String(), err
}

func TestTransactionCommands(t *testing.T) {
	a, _, _, _ := newTestApp(t)
	owner := uuid.New().String()

	out, err := run(t, a, "transactions", "create", "--user", owner, "--amount", "100.00", "--trn-id", "PAY-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	var created struct {
		ID     string `json:"id"`
		Status string `json:"transactionStatus"`
	}
	if err := json.Unmarshal([]byte(out), &created); err != nil {
		t.Fatalf("decode create output: %v (%s)", err, out)
	}
	if created.ID != "TX20261019-000001" || created.Status != "in progress" {
		t.Fatalf("unexpected transaction %+v", created)
	}

	out, err = run(t, a, "tx", "mark-paid", created.ID, "--trn-id", "CAP-1")
	if err != nil {
		t.Fatalf("mark-paid: %v", err)
	}
	if !strings.Contains(out, `"transactionStatus": "paid"`) {
		t.Fatalf("expected paid transaction, got %s", out)
	}

	if _, err := run(t, a, "transactions", "create", "--user", "nope", "--amount", "1"); err == nil {
		t.Fatal("expected invalid user error")
	}
	if _, err := run(t, a, "transactions", "get", "TX20261019-000404"); err == nil {
		t.Fatal("expected not found error")
	}
}

func TestCounterAllocate(t *testing.T) {
	a, _, _, _ := newTestApp(t)

	for want := 1; want <= 2; want++ {
		out, err := run(t, a, "counter", "allocate", "bookings::2026-10-19", "BK")
		if err != nil {
			t.Fatalf("allocate: %v", err)
		}
		if strings.TrimSpace(out) != strconv.Itoa(want) {
			t.Fatalf("expected %d, got %q", want, out)
		}
	}
}

func TestRefundReconciliation(t *testing.T) {
	a, store, rq, mr := newTestApp(t)
	ctx := context.Background()
	owner := uuid.New()

	txn, err := a.ledgerService(store).CreateTransaction(ctx, ledgerInput(owner))
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	if _, err := a.ledgerService(store).MarkPaid(ctx, txn.ID, ""); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	_, err = a.refundService(store, brokenPublisher{}).RequestRefund(ctx, refund.Request{
		UserID:        owner,
		TransactionID: txn.ID,
		Amount:        decimal.NewFromInt(25),
	})
	if err == nil {
		t.Fatal("expected enqueue failure")
	}

	out, err := run(t, a, "refunds", "list", "--status", "failed")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "RF20261019-000001") || !strings.Contains(out, "25.00") {
		t.Fatalf("failed refund missing from listing:\n%s", out)
	}

	if _, err := run(t, a, "refunds", "requeue", "RF20261019-000001"); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if entries, _ := mr.List("test:refund-jobs"); len(entries) != 1 {
		t.Fatalf("expected republished job, got %d", len(entries))
	}

	out, err = run(t, a, "refunds", "list", "--date", "2026-10-19", "--status", "failed")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.Contains(out, "RF20261019-000001") {
		t.Fatalf("requeued refund still listed as failed:\n%s", out)
	}

	// exhaust the job into the dead-letter list, then bring it back
	for i := 0; i < 3; i++ {
		deliveries, err := rq.Receive(ctx)
		if err != nil || len(deliveries) != 1 {
			t.Fatalf("receive %d: %v (%d)", i, err, len(deliveries))
		}
		if err := rq.Nack(ctx, deliveries[0]); err != nil {
			t.Fatalf("nack: %v", err)
		}
	}
	out, err = run(t, a, "dlq", "requeue")
	if err != nil {
		t.Fatalf("dlq requeue: %v", err)
	}
	if strings.TrimSpace(out) != "requeued 1 job(s)" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestTokenIssue(t *testing.T) {
	a, _, _, _ := newTestApp(t)
	user := uuid.New()

	out, err := run(t, a, "token", "--user", user.String(), "--role", "customer")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	claims, err := jwt.NewService("ledgerctl-secret", time.Hour).ValidateAccessToken(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("issued token invalid: %v", err)
	}
	if claims.UserID != user || claims.Role != jwt.RoleCustomer {
		t.Fatalf("unexpected claims %+v", claims)
	}

	out, err = run(t, a, "token", "--json")
	if err != nil {
		t.Fatalf("token --json: %v", err)
	}
	var issued struct {
		AccessToken string `json:"accessToken"`
		ExpiresIn   int    `json:"expiresIn"`
	}
	if err := json.Unmarshal([]byte(out), &issued); err != nil {
		t.Fatalf("decode: %v (%s)", err, out)
	}
	if issued.AccessToken == "" || issued.ExpiresIn != int(a.cfg.JWTAccessTTL.Seconds()) {
		t.Fatalf("unexpected token output %+v", issued)
	}

	if _, err := run(t, a, "token", "--role", "admin"); err == nil {
		t.Fatal("expected invalid role error")
	}
}

func ledgerInput(owner uuid.UUID) ledger.CreateInput {
	return ledger.CreateInput{UserID: owner, Amount: decimal.NewFromInt(100), Currency: "EUR"}
}
