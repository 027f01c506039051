package checkout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/perfumeshop/internal/cart"
	"github.com/joao-fontenele/perfumeshop/internal/domain"
	"github.com/joao-fontenele/perfumeshop/internal/inventory"
	"github.com/joao-fontenele/perfumeshop/internal/wallet"
)

type fakeLedger struct {
	mu        sync.Mutex
	balances  map[string]decimal.Decimal
	calls     int
	debitErr  error
	creditErr error
	debitHook func()
}

func newFakeLedger(userID, balance string) *fakeLedger {
	return &fakeLedger{balances: map[string]decimal.Decimal{userID: decimal.RequireFromString(balance)}}
}

func (l *fakeLedger) GetBalance(_ context.Context, userID string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	b, ok := l.balances[userID]
	if !ok {
		return decimal.Zero, wallet.ErrWalletNotFound
	}
	return b, nil
}

func (l *fakeLedger) Debit(_ context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if l.debitHook != nil {
		l.debitHook()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.debitErr != nil {
		return decimal.Zero, l.debitErr
	}
	b := l.balances[userID]
	if b.LessThan(amount) {
		return decimal.Zero, wallet.ErrInsufficientFunds
	}
	l.balances[userID] = b.Sub(amount)
	return l.balances[userID], nil
}

func (l *fakeLedger) Credit(_ context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.creditErr != nil {
		return decimal.Zero, l.creditErr
	}
	l.balances[userID] = l.balances[userID].Add(amount)
	return l.balances[userID], nil
}

func (l *fakeLedger) balance(userID string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID]
}

type fakeStore struct {
	mu         sync.Mutex
	stock      map[int64]int
	orders     map[int64]cart.Snapshot
	tokens     map[string]bool
	flagged    map[int64]string
	nextID     int64
	calls      int
	placeDelay time.Duration
}

func newFakeStore(stock map[int64]int) *fakeStore {
	return &fakeStore{
		stock:   stock,
		orders:  make(map[int64]cart.Snapshot),
		tokens:  make(map[string]bool),
		flagged: make(map[int64]string),
	}
}

func (s *fakeStore) PlaceOrder(_ context.Context, _ string, snap cart.Snapshot) (int64, error) {
	if s.placeDelay > 0 {
		time.Sleep(s.placeDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.tokens[snap.Token] {
		return 0, errors.New("duplicate cart token")
	}
	for _, line := range snap.Lines {
		if s.stock[line.ProductID] < line.Quantity {
			return 0, fmt.Errorf("product %d: %w", line.ProductID, inventory.ErrInsufficientStock)
		}
	}
	for _, line := range snap.Lines {
		s.stock[line.ProductID] -= line.Quantity
	}
	s.nextID++
	s.orders[s.nextID] = snap
	s.tokens[snap.Token] = true
	return s.nextID, nil
}

func (s *fakeStore) MarkForReconciliation(_ context.Context, orderID int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flagged[orderID] = reason
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []domain.OrderPlacedEvent
}

func (n *fakeNotifier) Notify(_ context.Context, event domain.OrderPlacedEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

type fakeSession struct {
	cartErr   error
	walletErr error
	savedCart *cart.Cart
	wallet    domain.Wallet
}

func (s *fakeSession) SaveCart(_ context.Context, c *cart.Cart) error {
	if s.cartErr != nil {
		return s.cartErr
	}
	s.savedCart = c
	return nil
}

func (s *fakeSession) SaveWallet(_ context.Context, w domain.Wallet) error {
	if s.walletErr != nil {
		return s.walletErr
	}
	s.wallet = w
	return nil
}

type noopLocker struct{}

func (noopLocker) Lock(context.Context, string) (func(), error) { return func() {}, nil }

func newService(ledger WalletLedger, store OrderStore, notifier Notifier, locker Locker) *Service {
	return NewService(ledger, store, notifier, locker, Config{DBTimeout: time.Second, LockTimeout: time.Second},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func cartWith(t *testing.T, productID int64, qty int, price string) *cart.Cart {
	t.Helper()
	c := cart.New()
	if err := c.AddItem(productID, qty, decimal.RequireFromString(price), decimal.Zero); err != nil {
		t.Fatalf("add item: %v", err)
	}
	return c
}

func TestPlaceOrder_Success(t *testing.T) {
	ledger := newFakeLedger("alice", "25")
	store := newFakeStore(map[int64]int{1: 10})
	notifier := &fakeNotifier{}
	session := &fakeSession{}
	svc := newService(ledger, store, notifier, nil)

	c := cartWith(t, 1, 2, "10")
	receipt, err := svc.PlaceOrder(context.Background(), Request{UserID: "alice", Email: "alice@example.com", Cart: c, Session: session})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !receipt.Total.Equal(decimal.NewFromInt(23)) {
		t.Errorf("expected total 23, got %s", receipt.Total)
	}
	if !receipt.NewBalance.Equal(decimal.NewFromInt(2)) {
		t.Errorf("expected new balance 2, got %s", receipt.NewBalance)
	}
	if !ledger.balance("alice").Equal(decimal.NewFromInt(2)) {
		t.Errorf("expected persisted balance 2, got %s", ledger.balance("alice"))
	}
	if store.stock[1] != 8 {
		t.Errorf("expected stock 8, got %d", store.stock[1])
	}
	if len(store.orders) != 1 || len(store.orders[receipt.OrderID].Lines) != 1 {
		t.Errorf("expected exactly one order with one line, got %+v", store.orders)
	}
	if !c.IsEmpty() || session.savedCart == nil || !session.savedCart.IsEmpty() {
		t.Error("expected cart cleared and persisted")
	}
	if !session.wallet.Balance.Equal(decimal.NewFromInt(2)) {
		t.Errorf("expected session wallet refreshed to 2, got %s", session.wallet.Balance)
	}
	if len(notifier.events) != 1 || notifier.events[0].OrderID != receipt.OrderID || notifier.events[0].Email != "alice@example.com" {
		t.Errorf("expected one order placed event, got %+v", notifier.events)
	}
}

func TestPlaceOrder_MoneyConservation(t *testing.T) {
	ledger := newFakeLedger("alice", "1000")
	store := newFakeStore(map[int64]int{1: 1000, 2: 1000})
	svc := newService(ledger, store, nil, nil)

	for i := 0; i < 20; i++ {
		c := cart.New()
		_ = c.AddItem(1, 1, decimal.RequireFromString("10.10"), decimal.RequireFromString("0.20"))
		_ = c.AddItem(2, 3, decimal.RequireFromString("3.33"), decimal.Zero)
		want := c.Total()

		before := ledger.balance("alice")
		if _, err := svc.PlaceOrder(context.Background(), Request{UserID: "alice", Cart: c}); err != nil {
			t.Fatalf("checkout %d: %v", i, err)
		}
		if got := before.Sub(ledger.balance("alice")); !got.Equal(want) {
			t.Fatalf("checkout %d: debited %s, expected %s", i, got, want)
		}
	}
}

func TestPlaceOrder_InsufficientFunds(t *testing.T) {
	ledger := newFakeLedger("alice", "20")
	store := newFakeStore(map[int64]int{1: 10})
	svc := newService(ledger, store, nil, nil)

	_, err := svc.PlaceOrder(context.Background(), Request{UserID: "alice", Cart: cartWith(t, 1, 2, "10")})

	var fundsErr *InsufficientFundsError
	if !errors.As(err, &fundsErr) {
		t.Fatalf("expected InsufficientFundsError, got %v", err)
	}
	if !fundsErr.Required.Equal(decimal.NewFromInt(23)) || !fundsErr.Available.Equal(decimal.NewFromInt(20)) {
		t.Errorf("unexpected amounts: %+v", fundsErr)
	}
	if store.calls != 0 || store.stock[1] != 10 {
		t.Error("expected no order and unchanged stock")
	}
	if !ledger.balance("alice").Equal(decimal.NewFromInt(20)) {
		t.Errorf("expected balance unchanged, got %s", ledger.balance("alice"))
	}
	if KindOf(err) != KindInsufficientFunds {
		t.Errorf("expected KindInsufficientFunds, got %s", KindOf(err))
	}
}

func TestPlaceOrder_OrderCreationFailed(t *testing.T) {
	ledger := newFakeLedger("alice", "100")
	store := newFakeStore(map[int64]int{2: 3})
	svc := newService(ledger, store, nil, nil)

	c := cartWith(t, 2, 5, "10")
	_, err := svc.PlaceOrder(context.Background(), Request{UserID: "alice", Cart: c})

	var creationErr *OrderCreationError
	if !errors.As(err, &creationErr) {
		t.Fatalf("expected OrderCreationError, got %v", err)
	}
	if !errors.Is(err, inventory.ErrInsufficientStock) {
		t.Errorf("expected cause ErrInsufficientStock, got %v", err)
	}
	if len(store.orders) != 0 || store.stock[2] != 3 {
		t.Error("expected no order and unchanged stock")
	}
	if !ledger.balance("alice").Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected balance unchanged, got %s", ledger.balance("alice"))
	}
	if c.IsEmpty() {
		t.Error("expected cart kept for a retry")
	}
}

func TestPlaceOrder_ValidationFailed(t *testing.T) {
	tests := []struct {
		name string
		req  func(t *testing.T) Request
	}{
		{
			name: "empty cart",
			req:  func(*testing.T) Request { return Request{UserID: "alice", Cart: cart.New()} },
		},
		{
			name: "nil cart",
			req:  func(*testing.T) Request { return Request{UserID: "alice"} },
		},
		{
			name: "missing identity",
			req:  func(t *testing.T) Request { return Request{UserID: " ", Cart: cartWith(t, 1, 1, "10")} },
		},
		{
			name: "discount above price from session",
			req: func(t *testing.T) Request {
				c := cart.New()
				if err := c.UnmarshalJSON([]byte(`{"token":"t","items":[{"product_id":1,"unit_price":"0","discount":"3","quantity":1}]}`)); err != nil {
					t.Fatalf("unmarshal: %v", err)
				}
				return Request{UserID: "alice", Cart: c}
			},
		},
		{
			name: "corrupt line from session",
			req: func(t *testing.T) Request {
				c := cart.New()
				if err := c.UnmarshalJSON([]byte(`{"token":"t","items":[{"product_id":1,"unit_price":"10","discount":"0","quantity":-1}]}`)); err != nil {
					t.Fatalf("unmarshal: %v", err)
				}
				return Request{UserID: "alice", Cart: c}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := newFakeLedger("alice", "100")
			store := newFakeStore(map[int64]int{1: 10})
			svc := newService(ledger, store, nil, nil)

			_, err := svc.PlaceOrder(context.Background(), tt.req(t))

			if KindOf(err) != KindValidation {
				t.Fatalf("expected KindValidation, got %v", err)
			}
			if ledger.calls != 0 || store.calls != 0 {
				t.Errorf("expected no database calls, got ledger=%d store=%d", ledger.calls, store.calls)
			}
		})
	}

	t.Run("missing wallet", func(t *testing.T) {
		svc := newService(newFakeLedger("bob", "100"), newFakeStore(nil), nil, nil)

		_, err := svc.PlaceOrder(context.Background(), Request{UserID: "alice", Cart: cartWith(t, 1, 1, "10")})
		if KindOf(err) != KindValidation {
			t.Fatalf("expected KindValidation, got %v", err)
		}
	})
}

func TestPlaceOrder_PaymentSettlementFailed(t *testing.T) {
	ledger := newFakeLedger("alice", "100")
	ledger.debitErr = errors.New("connection refused")
	store := newFakeStore(map[int64]int{1: 10})
	notifier := &fakeNotifier{}
	svc := newService(ledger, store, notifier, nil)

	c := cartWith(t, 1, 1, "10")
	_, err := svc.PlaceOrder(context.Background(), Request{UserID: "alice", Cart: c})

	var settlementErr *PaymentSettlementError
	if !errors.As(err, &settlementErr) {
		t.Fatalf("expected PaymentSettlementError, got %v", err)
	}
	if settlementErr.OrderID != 1 {
		t.Errorf("expected order id 1, got %d", settlementErr.OrderID)
	}
	if _, ok := store.flagged[1]; !ok {
		t.Error("expected order flagged for reconciliation")
	}
	if len(notifier.events) != 0 {
		t.Error("expected no notification for an unpaid order")
	}
	if c.IsEmpty() {
		t.Error("expected cart kept")
	}
}

func TestPlaceOrder_PartialFailure(t *testing.T) {
	t.Run("cleanup failure credits the wallet back", func(t *testing.T) {
		ledger := newFakeLedger("alice", "25")
		store := newFakeStore(map[int64]int{1: 10})
		notifier := &fakeNotifier{}
		svc := newService(ledger, store, notifier, nil)

		session := &fakeSession{cartErr: errors.New("redis unavailable")}
		_, err := svc.PlaceOrder(context.Background(), Request{UserID: "alice", Cart: cartWith(t, 1, 2, "10"), Session: session})

		var partialErr *PartialFailureError
		if !errors.As(err, &partialErr) {
			t.Fatalf("expected PartialFailureError, got %v", err)
		}
		if !partialErr.Compensated {
			t.Error("expected compensation to succeed")
		}
		if !ledger.balance("alice").Equal(decimal.NewFromInt(25)) {
			t.Errorf("expected balance restored to 25, got %s", ledger.balance("alice"))
		}
		if _, ok := store.flagged[partialErr.OrderID]; !ok {
			t.Error("expected order flagged for reconciliation")
		}
		if len(notifier.events) != 0 {
			t.Errorf("expected no confirmation for a refunded order, got %d", len(notifier.events))
		}
	})

	t.Run("failed compensation is reported, not swallowed", func(t *testing.T) {
		ledger := newFakeLedger("alice", "25")
		ledger.creditErr = errors.New("connection refused")
		store := newFakeStore(map[int64]int{1: 10})
		notifier := &fakeNotifier{}
		svc := newService(ledger, store, notifier, nil)

		session := &fakeSession{walletErr: errors.New("redis unavailable")}
		_, err := svc.PlaceOrder(context.Background(), Request{UserID: "alice", Cart: cartWith(t, 1, 2, "10"), Session: session})

		var partialErr *PartialFailureError
		if !errors.As(err, &partialErr) {
			t.Fatalf("expected PartialFailureError, got %v", err)
		}
		if partialErr.Compensated {
			t.Error("expected Compensated=false")
		}
		if _, ok := store.flagged[partialErr.OrderID]; !ok {
			t.Error("expected order flagged for reconciliation")
		}
		if len(notifier.events) != 0 {
			t.Errorf("expected no confirmation for a flagged order, got %d", len(notifier.events))
		}
	})

	t.Run("hung session store is bounded by the db timeout", func(t *testing.T) {
		ledger := newFakeLedger("alice", "25")
		store := newFakeStore(map[int64]int{1: 10})
		svc := NewService(ledger, store, nil, nil, Config{DBTimeout: 50 * time.Millisecond},
			slog.New(slog.NewTextHandler(io.Discard, nil)))

		start := time.Now()
		_, err := svc.PlaceOrder(context.Background(), Request{UserID: "alice", Cart: cartWith(t, 1, 2, "10"), Session: blockingSession{}})
		elapsed := time.Since(start)

		var partialErr *PartialFailureError
		if !errors.As(err, &partialErr) {
			t.Fatalf("expected PartialFailureError, got %v", err)
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded cause, got %v", err)
		}
		if !partialErr.Compensated {
			t.Error("expected compensation to succeed")
		}
		if !ledger.balance("alice").Equal(decimal.NewFromInt(25)) {
			t.Errorf("expected balance restored to 25, got %s", ledger.balance("alice"))
		}
		if elapsed > time.Second {
			t.Errorf("expected cleanup to give up near 50ms, took %s", elapsed)
		}
	})
}

// blockingSession never answers until its context is done.
type blockingSession struct{}

func (blockingSession) SaveCart(ctx context.Context, _ *cart.Cart) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingSession) SaveWallet(ctx context.Context, _ domain.Wallet) error {
	<-ctx.Done()
	return ctx.Err()
}

type hungStore struct {
	*fakeStore
}

func (hungStore) PlaceOrder(ctx context.Context, _ string, _ cart.Snapshot) (int64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

type hungLedger struct {
	*fakeLedger
}

func (hungLedger) Debit(ctx context.Context, _ string, _ decimal.Decimal) (decimal.Decimal, error) {
	<-ctx.Done()
	return decimal.Zero, ctx.Err()
}

func TestPlaceOrder_DBTimeout(t *testing.T) {
	const dbTimeout = 50 * time.Millisecond

	tests := []struct {
		name   string
		ledger WalletLedger
		store  func(*fakeStore) OrderStore
		want   Kind
	}{
		{
			name:   "order store never answers",
			ledger: newFakeLedger("alice", "100"),
			store:  func(s *fakeStore) OrderStore { return hungStore{s} },
			want:   KindOrderCreation,
		},
		{
			name:   "wallet debit never answers",
			ledger: hungLedger{newFakeLedger("alice", "100")},
			store:  func(s *fakeStore) OrderStore { return s },
			want:   KindPaymentSettlement,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backing := newFakeStore(map[int64]int{1: 10})
			notifier := &fakeNotifier{}
			svc := NewService(tt.ledger, tt.store(backing), notifier, nil, Config{DBTimeout: dbTimeout},
				slog.New(slog.NewTextHandler(io.Discard, nil)))

			c := cartWith(t, 1, 1, "10")
			start := time.Now()
			_, err := svc.PlaceOrder(context.Background(), Request{UserID: "alice", Cart: c})
			elapsed := time.Since(start)

			if KindOf(err) != tt.want {
				t.Fatalf("expected %s, got %v", tt.want, err)
			}
			if !errors.Is(err, context.DeadlineExceeded) {
				t.Errorf("expected deadline exceeded cause, got %v", err)
			}
			if elapsed < dbTimeout {
				t.Errorf("expected to wait for the db timeout, returned after %s", elapsed)
			}
			if elapsed > time.Second {
				t.Errorf("expected to give up near %s, took %s", dbTimeout, elapsed)
			}
			if c.IsEmpty() {
				t.Error("expected cart kept for a retry")
			}
			if len(notifier.events) != 0 {
				t.Errorf("expected no notification, got %d", len(notifier.events))
			}
		})
	}

	t.Run("hung debit leaves the order flagged", func(t *testing.T) {
		backing := newFakeStore(map[int64]int{1: 10})
		svc := NewService(hungLedger{newFakeLedger("alice", "100")}, backing, nil, nil, Config{DBTimeout: dbTimeout},
			slog.New(slog.NewTextHandler(io.Discard, nil)))

		_, err := svc.PlaceOrder(context.Background(), Request{UserID: "alice", Cart: cartWith(t, 1, 1, "10")})

		var settlementErr *PaymentSettlementError
		if !errors.As(err, &settlementErr) {
			t.Fatalf("expected PaymentSettlementError, got %v", err)
		}
		if _, ok := backing.flagged[settlementErr.OrderID]; !ok {
			t.Error("expected order flagged for reconciliation")
		}
	})
}

func TestPlaceOrder_DuplicateSnapshot(t *testing.T) {
	ledger := newFakeLedger("alice", "100")
	store := newFakeStore(map[int64]int{1: 10})
	svc := newService(ledger, store, nil, nil)

	c := cartWith(t, 1, 1, "10")
	stale := cart.New()
	data, _ := c.MarshalJSON()
	if err := stale.UnmarshalJSON(data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if _, err := svc.PlaceOrder(context.Background(), Request{UserID: "alice", Cart: c}); err != nil {
		t.Fatalf("first checkout: %v", err)
	}
	_, err := svc.PlaceOrder(context.Background(), Request{UserID: "alice", Cart: stale})
	if KindOf(err) != KindOrderCreation {
		t.Fatalf("expected KindOrderCreation for replayed snapshot, got %v", err)
	}
	if !ledger.balance("alice").Equal(decimal.NewFromInt(87)) {
		t.Errorf("expected a single debit, got balance %s", ledger.balance("alice"))
	}
}

func TestPlaceOrder_ConcurrentSameUser(t *testing.T) {
	lockers := map[string]Locker{
		"keyed mutex":       NewKeyedMutex(),
		"atomic debit only": noopLocker{},
	}

	for name, locker := range lockers {
		t.Run(name, func(t *testing.T) {
			ledger := newFakeLedger("alice", "25")
			store := newFakeStore(map[int64]int{1: 100})
			store.placeDelay = 10 * time.Millisecond
			svc := newService(ledger, store, nil, locker)

			var wg sync.WaitGroup
			errs := make([]error, 2)
			for i := range errs {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					c := cart.New()
					_ = c.AddItem(1, 2, decimal.NewFromInt(10), decimal.Zero)
					_, errs[i] = svc.PlaceOrder(context.Background(), Request{UserID: "alice", Cart: c})
				}(i)
			}
			wg.Wait()

			successes := 0
			for _, err := range errs {
				if err == nil {
					successes++
				}
			}
			if successes != 1 {
				t.Fatalf("expected exactly one success, got %d (%v)", successes, errs)
			}
			if !ledger.balance("alice").Equal(decimal.NewFromInt(2)) {
				t.Errorf("expected a single debit leaving 2, got %s", ledger.balance("alice"))
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{nil, KindSuccess},
		{&ValidationError{Reason: "x"}, KindValidation},
		{fmt.Errorf("wrapped: %w", &InsufficientFundsError{}), KindInsufficientFunds},
		{&OrderCreationError{Cause: errors.New("x")}, KindOrderCreation},
		{&PaymentSettlementError{OrderID: 1}, KindPaymentSettlement},
		{&PartialFailureError{OrderID: 1}, KindPartialFailure},
		{errors.New("boom"), KindUnknown},
	}

	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
