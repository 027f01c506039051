// Package checkout turns a session cart into a paid order.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/perfumeshop/internal/cart"
	"github.com/joao-fontenele/perfumeshop/internal/domain"
	"github.com/joao-fontenele/perfumeshop/internal/wallet"
)

var (
	tracer = otel.Tracer("checkout")
	meter  = otel.Meter("checkout")
)

type WalletLedger interface {
	GetBalance(ctx context.Context, userID string) (decimal.Decimal, error)
	Debit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)
	Credit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)
}

type OrderStore interface {
	PlaceOrder(ctx context.Context, userID string, snap cart.Snapshot) (int64, error)
	MarkForReconciliation(ctx context.Context, orderID int64, reason string) error
}

// Notifier must not block; delivery failures are its own concern.
type Notifier interface {
	Notify(ctx context.Context, event domain.OrderPlacedEvent)
}

// Session persists the state the storefront keeps for the shopper.
type Session interface {
	SaveCart(ctx context.Context, c *cart.Cart) error
	SaveWallet(ctx context.Context, w domain.Wallet) error
}

type Request struct {
	UserID  string
	Email   string
	Cart    *cart.Cart
	Session Session
}

type Receipt struct {
	OrderID    int64           `json:"order_id"`
	Total      decimal.Decimal `json:"total"`
	NewBalance decimal.Decimal `json:"new_balance"`
	PlacedAt   time.Time       `json:"placed_at"`
}

type Config struct {
	// DBTimeout bounds every ledger and store call.
	DBTimeout time.Duration
	// LockTimeout bounds the wait for the per-user lock.
	LockTimeout time.Duration
}

const (
	DefaultDBTimeout   = 5 * time.Second
	DefaultLockTimeout = 10 * time.Second
)

type Service struct {
	ledger   WalletLedger
	store    OrderStore
	notifier Notifier
	locker   Locker
	cfg      Config
	logger   *slog.Logger
	outcomes metric.Int64Counter
	now      func() time.Time
}

// NewService wires the orchestrator. A nil locker falls back to an in-process KeyedMutex
// and a nil notifier disables notifications.
func NewService(ledger WalletLedger, store OrderStore, notifier Notifier, locker Locker, cfg Config, logger *slog.Logger) *Service {
	if cfg.DBTimeout <= 0 {
		cfg.DBTimeout = DefaultDBTimeout
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}
	if locker == nil {
		locker = NewKeyedMutex()
	}

	outcomes, err := meter.Int64Counter("checkout.outcomes",
		metric.WithDescription("Checkout attempts by outcome"),
	)
	if err != nil {
		logger.Warn("failed to create checkout counter", "error", err)
		outcomes = noop.Int64Counter{}
	}

	return &Service{
		ledger:   ledger,
		store:    store,
		notifier: notifier,
		locker:   locker,
		cfg:      cfg,
		logger:   logger,
		outcomes: outcomes,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// PlaceOrder validates the cart, creates the order, debits the wallet and clears the
// session cart. Every failure is one of the typed errors in this package.
func (s *Service) PlaceOrder(ctx context.Context, req Request) (receipt *Receipt, err error) {
	ctx, span := tracer.Start(ctx, "checkout.place_order",
		trace.WithAttributes(attribute.String("user.id", req.UserID)),
	)
	defer func() {
		kind := KindOf(err)
		s.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", kind.String())))
		span.SetAttributes(attribute.String("checkout.outcome", kind.String()))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := validate(req); err != nil {
		s.logger.Info("checkout rejected", "user_id", req.UserID, "reason", err.Reason)
		return nil, err
	}

	snap := req.Cart.Snapshot()
	logger := s.logger.With("user_id", req.UserID, "total", snap.Total.StringFixed(2))

	lockCtx, cancel := context.WithTimeout(ctx, s.cfg.LockTimeout)
	unlock, err := s.locker.Lock(lockCtx, "checkout:"+req.UserID)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrCheckoutInProgress
		}
		logger.Warn("failed to acquire checkout lock", "error", err, "stage", "lock")
		return nil, &OrderCreationError{Cause: err}
	}
	defer unlock()

	balance, err := s.balance(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, wallet.ErrWalletNotFound) {
			return nil, &ValidationError{Reason: "wallet not found"}
		}
		logger.Error("failed to read wallet balance", "error", err, "stage", "balance")
		return nil, &OrderCreationError{Cause: err}
	}
	if balance.LessThan(snap.Total) {
		logger.Info("checkout rejected", "reason", "insufficient funds", "available", balance.StringFixed(2))
		return nil, &InsufficientFundsError{Required: snap.Total, Available: balance}
	}

	orderID, err := s.placeOrder(ctx, req.UserID, snap)
	if err != nil {
		logger.Warn("failed to create order", "error", err, "stage", "order")
		return nil, &OrderCreationError{Cause: err}
	}
	logger = logger.With("order_id", orderID)

	newBalance, err := s.debit(ctx, req.UserID, snap.Total)
	if err != nil {
		logger.Error("payment settlement failed, order needs reconciliation", "error", err, "stage", "debit")
		s.flag(ctx, logger, orderID, "wallet debit failed: "+err.Error())
		return nil, &PaymentSettlementError{OrderID: orderID, Cause: err}
	}

	placedAt := s.now()
	if err := s.cleanup(ctx, req, newBalance); err != nil {
		compensated := true
		if _, creditErr := s.credit(ctx, req.UserID, snap.Total); creditErr != nil {
			compensated = false
			logger.Error("compensating credit failed, escalating to reconciliation",
				"error", creditErr, "cleanup_error", err, "stage", "compensation")
		} else {
			logger.Error("session cleanup failed, debit credited back", "error", err, "stage", "cleanup")
		}
		s.flag(ctx, logger, orderID, "session cleanup failed: "+err.Error())
		return nil, &PartialFailureError{
			OrderID:     orderID,
			Reason:      err.Error(),
			Compensated: compensated,
			Cause:       err,
		}
	}

	// The confirmation goes out only once the order is final; a compensated or
	// flagged order is left to reconciliation.
	if s.notifier != nil {
		s.notifier.Notify(ctx, domain.OrderPlacedEvent{
			EventID:  uuid.NewString(),
			OrderID:  orderID,
			UserID:   req.UserID,
			Email:    req.Email,
			Total:    snap.Total,
			Lines:    orderLines(orderID, snap),
			PlacedAt: placedAt,
		})
	}

	logger.Info("checkout succeeded", "new_balance", newBalance.StringFixed(2))
	return &Receipt{
		OrderID:    orderID,
		Total:      snap.Total,
		NewBalance: newBalance,
		PlacedAt:   placedAt,
	}, nil
}

func validate(req Request) *ValidationError {
	switch {
	case strings.TrimSpace(req.UserID) == "":
		return &ValidationError{Reason: "missing user identity"}
	case req.Cart == nil || req.Cart.IsEmpty():
		return &ValidationError{Reason: "cart is empty"}
	}
	if err := req.Cart.Validate(); err != nil {
		return &ValidationError{Reason: err.Error()}
	}
	if !req.Cart.Total().IsPositive() {
		return &ValidationError{Reason: "cart total must be positive"}
	}
	return nil
}

func (s *Service) balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.DBTimeout)
	defer cancel()
	return s.ledger.GetBalance(ctx, userID)
}

func (s *Service) placeOrder(ctx context.Context, userID string, snap cart.Snapshot) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.DBTimeout)
	defer cancel()
	return s.store.PlaceOrder(ctx, userID, snap)
}

func (s *Service) debit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.DBTimeout)
	defer cancel()
	return s.ledger.Debit(ctx, userID, amount)
}

// credit runs even when the request context is already cancelled.
func (s *Service) credit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.DBTimeout)
	defer cancel()
	return s.ledger.Credit(ctx, userID, amount)
}

func (s *Service) flag(ctx context.Context, logger *slog.Logger, orderID int64, reason string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.DBTimeout)
	defer cancel()
	if err := s.store.MarkForReconciliation(ctx, orderID, reason); err != nil {
		logger.Error("failed to flag order for reconciliation", "error", err, "stage", "reconciliation")
	}
}

func (s *Service) cleanup(ctx context.Context, req Request, newBalance decimal.Decimal) error {
	req.Cart.Clear()
	if req.Session == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.DBTimeout)
	defer cancel()
	if err := req.Session.SaveCart(ctx, req.Cart); err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	if err := req.Session.SaveWallet(ctx, domain.Wallet{UserID: req.UserID, Balance: newBalance}); err != nil {
		return fmt.Errorf("save wallet: %w", err)
	}
	return nil
}

func orderLines(orderID int64, snap cart.Snapshot) []domain.OrderLine {
	lines := make([]domain.OrderLine, 0, len(snap.Lines))
	for _, l := range snap.Lines {
		lines = append(lines, domain.OrderLine{
			OrderID:   orderID,
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			Discount:  l.Discount,
		})
	}
	return lines
}
