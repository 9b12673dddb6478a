package api

import (
	"net/http"

	"github.com/dmitrymomot/billingkit/pkg/ledger"
)

func (h *Handler) paymentHistory(w http.ResponseWriter, r *http.Request) {
	subscriptionID, err := pathID(r, "subscriptionID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	payments, err := h.payments.History(r.Context(), subscriptionID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if payments == nil {
		payments = []ledger.Payment{}
	}
	ok(w, payments)
}

type refundRequest struct {
	// Amount in minor units; zero refunds the whole refundable amount.
	Amount int64  `json:"amount" validate:"gte=0"`
	Reason string `json:"reason" validate:"omitempty,max=255"`
}

func (h *Handler) refundPayment(w http.ResponseWriter, r *http.Request) {
	paymentID, err := pathID(r, "paymentID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req refundRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	amount := req.Amount
	if amount == 0 {
		p, err := h.payments.Get(r.Context(), paymentID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if amount = p.Refundable(); amount <= 0 {
			amount = p.Amount
		}
	}

	p, err := h.payments.Refund(r.Context(), paymentID, amount, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, p)
}

type cancelPaymentRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=255"`
}

func (h *Handler) cancelPayment(w http.ResponseWriter, r *http.Request) {
	paymentID, err := pathID(r, "paymentID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req cancelPaymentRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.payments.Cancel(r.Context(), paymentID, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, p)
}
