// Package shop is the storefront HTTP API: session cart, wishlist, wallet and checkout.
package shop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/perfumeshop/internal/cart"
	"github.com/joao-fontenele/perfumeshop/internal/checkout"
	"github.com/joao-fontenele/perfumeshop/internal/domain"
	"github.com/joao-fontenele/perfumeshop/internal/session"
	"github.com/joao-fontenele/perfumeshop/internal/wallet"
)

const SessionCookie = "SESSIONID"

type Catalog interface {
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
}

type Wallets interface {
	GetBalance(ctx context.Context, userID string) (decimal.Decimal, error)
	Credit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)
	Open(ctx context.Context, userID string, initial decimal.Decimal) error
}

type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req checkout.Request) (*checkout.Receipt, error)
}

type Handler struct {
	catalog  Catalog
	wallets  Wallets
	checkout OrderPlacer
	sessions *session.Store
	logger   *slog.Logger
}

func NewHandler(catalog Catalog, wallets Wallets, placer OrderPlacer, sessions *session.Store, logger *slog.Logger) *Handler {
	return &Handler{
		catalog:  catalog,
		wallets:  wallets,
		checkout: placer,
		sessions: sessions,
		logger:   logger,
	}
}

type loginRequest struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}

type loginResponse struct {
	Account domain.Account `json:"account"`
	Wallet  domain.Wallet  `json:"wallet"`
}

// HandleLogin stands in for the OAuth callback: it trusts the posted identity, opens an
// empty wallet on first login and caches account and balance in the session.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.Email = strings.TrimSpace(req.Email)
	if req.UserID == "" || req.Email == "" {
		h.writeError(w, http.StatusBadRequest, "user_id and email are required")
		return
	}

	ctx := r.Context()
	if err := h.wallets.Open(ctx, req.UserID, decimal.Zero); err != nil && !errors.Is(err, wallet.ErrWalletExists) {
		h.logger.Error("failed to open wallet", "error", err, "user_id", req.UserID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	balance, err := h.wallets.GetBalance(ctx, req.UserID)
	if err != nil {
		h.logger.Error("failed to read wallet", "error", err, "user_id", req.UserID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	account := domain.Account{UserID: req.UserID, Email: req.Email, FullName: req.FullName}
	wal := domain.Wallet{UserID: req.UserID, Balance: balance}

	sess := h.session(w, r)
	merged, err := h.loginCart(ctx, sess, req.UserID)
	if err != nil {
		h.logger.Error("failed to merge carts", "error", err, "user_id", req.UserID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if err := sess.SaveCart(ctx, merged); err != nil {
		h.logger.Error("failed to save merged cart", "error", err, "user_id", req.UserID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if err := sess.SaveAccount(ctx, account); err != nil {
		h.logger.Error("failed to save account", "error", err, "user_id", req.UserID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if err := sess.SaveWallet(ctx, wal); err != nil {
		h.logger.Error("failed to cache wallet", "error", err, "user_id", req.UserID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("user logged in", "user_id", req.UserID)
	h.writeJSON(w, http.StatusOK, loginResponse{Account: account, Wallet: wal})
}

// loginCart folds the cart built as a guest into the one parked under the account.
// A session that already belongs to someone has no guest cart to fold in.
func (h *Handler) loginCart(ctx context.Context, sess *session.Session, userID string) (*cart.Cart, error) {
	current, err := sess.Account(ctx)
	if err != nil {
		return nil, err
	}
	guest, err := sess.Cart(ctx)
	if err != nil {
		return nil, err
	}
	if current != nil {
		if current.UserID == userID {
			return guest, nil
		}
		if err := h.sessions.SaveAccountCart(ctx, current.UserID, guest); err != nil {
			return nil, err
		}
		guest = cart.New()
	}

	merged, err := h.sessions.TakeAccountCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := merged.Merge(guest); err != nil {
		h.logger.Warn("guest cart only partly merged", "error", err, "user_id", userID)
	}
	return merged, nil
}

// HandleLogout parks the cart under the account before dropping the session.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		sess := h.sessions.Bind(c.Value)
		if err := h.parkCart(r.Context(), sess); err != nil {
			h.logger.Error("failed to park cart", "error", err)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if err := sess.Destroy(r.Context()); err != nil {
			h.logger.Error("failed to destroy session", "error", err)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
	}
	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
	w.WriteHeader(http.StatusNoContent)
}

type cartLine struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Discount  decimal.Decimal `json:"discount"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type cartView struct {
	Token         string          `json:"token"`
	Items         []cartLine      `json:"items"`
	OnSale        []cartLine      `json:"on_sale"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	DiscountTotal decimal.Decimal `json:"discount_total"`
	ShippingFee   decimal.Decimal `json:"shipping_fee"`
	Total         decimal.Decimal `json:"total"`
}

func linesOf(items []cart.LineItem) []cartLine {
	lines := make([]cartLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, cartLine{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Discount:  item.Discount,
			LineTotal: item.LineTotal(),
		})
	}
	return lines
}

func viewOf(c *cart.Cart) cartView {
	return cartView{
		Token:         c.Token(),
		Items:         linesOf(c.Items()),
		OnSale:        linesOf(c.SaleItems()),
		Subtotal:      c.Subtotal(),
		DiscountTotal: c.DiscountTotal(),
		ShippingFee:   c.ShippingFee(),
		Total:         c.Total(),
	}
}

func (h *Handler) parkCart(ctx context.Context, sess *session.Session) error {
	account, err := sess.Account(ctx)
	if err != nil || account == nil {
		return err
	}
	c, err := sess.Cart(ctx)
	if err != nil {
		return err
	}
	if c.IsEmpty() {
		return nil
	}
	return h.sessions.SaveAccountCart(ctx, account.UserID, c)
}

func (h *Handler) HandleGetCart(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadCart(w, r, h.session(w, r))
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, viewOf(c))
}

type addItemRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// HandleAddItem prices the line from the catalogue, never from the client.
func (h *Handler) HandleAddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProductID <= 0 || req.Quantity <= 0 {
		h.writeError(w, http.StatusBadRequest, "product_id and quantity must be positive")
		return
	}

	product, ok := h.product(w, r, req.ProductID)
	if !ok {
		return
	}

	sess := h.session(w, r)
	c, ok := h.loadCart(w, r, sess)
	if !ok {
		return
	}

	if c.Quantity(product.ID)+req.Quantity > product.Quantity {
		h.writeError(w, http.StatusConflict, fmt.Sprintf("only %d left in stock", product.Quantity))
		return
	}

	if err := c.AddItem(product.ID, req.Quantity, product.Price, product.Discount); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !h.saveCart(w, r, sess, c) {
		return
	}
	h.writeJSON(w, http.StatusOK, viewOf(c))
}

type updateItemRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) HandleUpdateItem(w http.ResponseWriter, r *http.Request) {
	productID, ok := h.pathID(w, r, "productId")
	if !ok {
		return
	}

	var req updateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess := h.session(w, r)
	c, ok := h.loadCart(w, r, sess)
	if !ok {
		return
	}

	if req.Quantity > c.Quantity(productID) {
		product, ok := h.product(w, r, productID)
		if !ok {
			return
		}
		if req.Quantity > product.Quantity {
			h.writeError(w, http.StatusConflict, fmt.Sprintf("only %d left in stock", product.Quantity))
			return
		}
	}

	found, err := c.UpdateQuantity(productID, req.Quantity)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !found {
		h.writeError(w, http.StatusNotFound, "product not in cart")
		return
	}

	if !h.saveCart(w, r, sess, c) {
		return
	}
	h.writeJSON(w, http.StatusOK, viewOf(c))
}

func (h *Handler) HandleRemoveItem(w http.ResponseWriter, r *http.Request) {
	productID, ok := h.pathID(w, r, "productId")
	if !ok {
		return
	}

	sess := h.session(w, r)
	c, ok := h.loadCart(w, r, sess)
	if !ok {
		return
	}

	if !c.RemoveItem(productID) {
		h.writeError(w, http.StatusNotFound, "product not in cart")
		return
	}

	if !h.saveCart(w, r, sess, c) {
		return
	}
	h.writeJSON(w, http.StatusOK, viewOf(c))
}

type wishlistView struct {
	ProductIDs []int64 `json:"product_ids"`
	Count      int     `json:"count"`
}

func (h *Handler) HandleGetWishlist(w http.ResponseWriter, r *http.Request) {
	list, err := h.session(w, r).Wishlist(r.Context())
	if err != nil {
		h.logger.Error("failed to load wishlist", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, wishlistView{ProductIDs: list.ProductIDs(), Count: list.Count()})
}

func (h *Handler) HandleAddWishlist(w http.ResponseWriter, r *http.Request) {
	h.updateWishlist(w, r, true)
}

func (h *Handler) HandleRemoveWishlist(w http.ResponseWriter, r *http.Request) {
	h.updateWishlist(w, r, false)
}

func (h *Handler) updateWishlist(w http.ResponseWriter, r *http.Request, add bool) {
	productID, ok := h.pathID(w, r, "productId")
	if !ok {
		return
	}
	if add {
		if _, ok := h.product(w, r, productID); !ok {
			return
		}
	}

	sess := h.session(w, r)
	list, err := sess.Wishlist(r.Context())
	if err != nil {
		h.logger.Error("failed to load wishlist", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if add {
		list.Add(productID)
	} else if !list.Remove(productID) {
		h.writeError(w, http.StatusNotFound, "product not in wishlist")
		return
	}

	if err := sess.SaveWishlist(r.Context(), list); err != nil {
		h.logger.Error("failed to save wishlist", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, wishlistView{ProductIDs: list.ProductIDs(), Count: list.Count()})
}

func (h *Handler) HandleGetWallet(w http.ResponseWriter, r *http.Request) {
	sess, account, ok := h.requireAccount(w, r)
	if !ok {
		return
	}

	balance, err := h.wallets.GetBalance(r.Context(), account.UserID)
	if errors.Is(err, wallet.ErrWalletNotFound) {
		h.writeError(w, http.StatusNotFound, "wallet not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to read wallet", "error", err, "user_id", account.UserID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.refreshWallet(r.Context(), sess, account.UserID, balance)
	h.writeJSON(w, http.StatusOK, domain.Wallet{UserID: account.UserID, Balance: balance})
}

type depositRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// HandleDeposit tops up the wallet; the simulated payment gateway has already accepted it.
func (h *Handler) HandleDeposit(w http.ResponseWriter, r *http.Request) {
	sess, account, ok := h.requireAccount(w, r)
	if !ok {
		return
	}

	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Amount.IsPositive() {
		h.writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	balance, err := h.wallets.Credit(r.Context(), account.UserID, req.Amount)
	if errors.Is(err, wallet.ErrWalletNotFound) {
		h.writeError(w, http.StatusNotFound, "wallet not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to deposit", "error", err, "user_id", account.UserID, "amount", req.Amount.StringFixed(2))
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("wallet deposit", "user_id", account.UserID, "amount", req.Amount.StringFixed(2))
	h.refreshWallet(r.Context(), sess, account.UserID, balance)
	h.writeJSON(w, http.StatusOK, domain.Wallet{UserID: account.UserID, Balance: balance})
}

func (h *Handler) requireAccount(w http.ResponseWriter, r *http.Request) (*session.Session, *domain.Account, bool) {
	sess := h.session(w, r)
	account, err := sess.Account(r.Context())
	if err != nil {
		h.logger.Error("failed to load account", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return nil, nil, false
	}
	if account == nil {
		h.writeError(w, http.StatusUnauthorized, "login required")
		return nil, nil, false
	}
	return sess, account, true
}

// refreshWallet only updates the cache; a failure is logged and the ledger stays authoritative.
func (h *Handler) refreshWallet(ctx context.Context, sess *session.Session, userID string, balance decimal.Decimal) {
	if err := sess.SaveWallet(ctx, domain.Wallet{UserID: userID, Balance: balance}); err != nil {
		h.logger.Warn("failed to refresh cached wallet", "error", err, "user_id", userID)
	}
}

// session returns the caller's session, issuing a new cookie when there is none. Every
// request on a known session slides its expiry forward.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) *session.Session {
	if c, err := r.Cookie(SessionCookie); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			sess := h.sessions.Bind(c.Value)
			if err := sess.Touch(r.Context()); err != nil {
				h.logger.Warn("failed to extend session", "error", err)
			}
			return sess
		}
	}

	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	r.AddCookie(&http.Cookie{Name: SessionCookie, Value: id})
	return h.sessions.Bind(id)
}

func (h *Handler) loadCart(w http.ResponseWriter, r *http.Request, sess *session.Session) (*cart.Cart, bool) {
	c, err := sess.Cart(r.Context())
	if err != nil {
		h.logger.Error("failed to load cart", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return nil, false
	}
	return c, true
}

func (h *Handler) saveCart(w http.ResponseWriter, r *http.Request, sess *session.Session, c *cart.Cart) bool {
	if err := sess.SaveCart(r.Context(), c); err != nil {
		h.logger.Error("failed to save cart", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return false
	}
	return true
}

func (h *Handler) product(w http.ResponseWriter, r *http.Request, id int64) (*domain.Product, bool) {
	product, err := h.catalog.GetProduct(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get product", "error", err, "product_id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return nil, false
	}
	if product == nil {
		h.writeError(w, http.StatusNotFound, "product not found")
		return nil, false
	}
	return product, true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
