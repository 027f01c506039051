package shop

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/perfumeshop/internal/checkout"
	"github.com/joao-fontenele/perfumeshop/internal/inventory"
	"github.com/joao-fontenele/perfumeshop/internal/orders"
)

const (
	messageSuccess = "Order Success"
	messageFail    = "Order Fail"
)

type checkoutResponse struct {
	Message1   string           `json:"message1"`
	Message2   string           `json:"message2"`
	Outcome    string           `json:"outcome"`
	OrderID    int64            `json:"order_id,omitempty"`
	Total      *decimal.Decimal `json:"total,omitempty"`
	NewBalance *decimal.Decimal `json:"new_balance,omitempty"`
}

// HandleCheckout places the session cart as an order for the logged-in account.
// A missing login is reported by the orchestrator as a validation failure.
func (h *Handler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := h.session(w, r)

	account, err := sess.Account(ctx)
	if err != nil {
		h.logger.Error("failed to load account", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	c, ok := h.loadCart(w, r, sess)
	if !ok {
		return
	}

	req := checkout.Request{Cart: c, Session: sess}
	if account != nil {
		req.UserID = account.UserID
		req.Email = account.Email
	}

	receipt, err := h.checkout.PlaceOrder(ctx, req)
	if err != nil {
		status, resp := checkoutFailure(err)
		h.logger.Info("checkout failed", "user_id", req.UserID, "outcome", resp.Outcome, "status", status, "error", err)
		h.writeJSON(w, status, resp)
		return
	}

	h.writeJSON(w, http.StatusCreated, checkoutResponse{
		Message1:   messageSuccess,
		Message2:   fmt.Sprintf("Your order #%d has been placed. Remaining balance: %s", receipt.OrderID, receipt.NewBalance.StringFixed(2)),
		Outcome:    checkout.KindSuccess.String(),
		OrderID:    receipt.OrderID,
		Total:      &receipt.Total,
		NewBalance: &receipt.NewBalance,
	})
}

func checkoutFailure(err error) (int, checkoutResponse) {
	kind := checkout.KindOf(err)
	resp := checkoutResponse{Message1: messageFail, Outcome: kind.String()}

	var (
		validation *checkout.ValidationError
		funds      *checkout.InsufficientFundsError
		settlement *checkout.PaymentSettlementError
		partial    *checkout.PartialFailureError
	)

	switch {
	case errors.As(err, &validation):
		resp.Message2 = "Cannot place the order: " + validation.Reason
		return http.StatusBadRequest, resp

	case errors.As(err, &funds):
		resp.Message2 = "The balance in the account is not enough to make this transaction"
		resp.Total = &funds.Required
		resp.NewBalance = &funds.Available
		return http.StatusPaymentRequired, resp

	case kind == checkout.KindOrderCreation:
		switch {
		case errors.Is(err, inventory.ErrInsufficientStock):
			resp.Message2 = "Some products in your cart are no longer in stock"
			return http.StatusConflict, resp
		case errors.Is(err, orders.ErrDuplicateSubmission):
			resp.Message2 = "This cart has already been ordered"
			return http.StatusConflict, resp
		case errors.Is(err, checkout.ErrCheckoutInProgress):
			resp.Message2 = "Another checkout is already in progress, please try again"
			return http.StatusConflict, resp
		default:
			resp.Message2 = "The order could not be created, please try again"
			return http.StatusServiceUnavailable, resp
		}

	case errors.As(err, &settlement):
		resp.OrderID = settlement.OrderID
		resp.Message2 = fmt.Sprintf("Payment for order #%d could not be settled; the order is held for review", settlement.OrderID)
		return http.StatusInternalServerError, resp

	case errors.As(err, &partial):
		resp.OrderID = partial.OrderID
		if partial.Compensated {
			resp.Message2 = fmt.Sprintf("Order #%d could not be finalized; your wallet has been refunded and the order is held for review", partial.OrderID)
		} else {
			resp.Message2 = fmt.Sprintf("Order #%d could not be finalized and is held for review", partial.OrderID)
		}
		return http.StatusInternalServerError, resp

	default:
		resp.Message2 = "Unexpected error, please try again"
		return http.StatusInternalServerError, resp
	}
}
