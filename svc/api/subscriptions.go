package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/discount"
	"github.com/dmitrymomot/billingkit/pkg/notify"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

type subscribeRequest struct {
	PlanID          string     `json:"plan_id" validate:"required,max=64"`
	UserID          string     `json:"user_id" validate:"omitempty,max=128"`
	DiscountCode    string     `json:"discount_code" validate:"omitempty,max=64"`
	PaymentMethodID *uuid.UUID `json:"payment_method_id"`
}

func (h *Handler) subscribe(w http.ResponseWriter, r *http.Request) {
	businessID, err := pathID(r, "businessID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req subscribeRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	sub, err := h.billing.Subscribe(r.Context(), subscription.SubscribeRequest{
		BusinessID:      businessID,
		PlanID:          req.PlanID,
		UserID:          req.UserID,
		DiscountCode:    req.DiscountCode,
		PaymentMethodID: req.PaymentMethodID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	created(w, sub)
}

func (h *Handler) getSubscription(w http.ResponseWriter, r *http.Request) {
	businessID, err := pathID(r, "businessID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sub, err := h.billing.GetSubscription(r.Context(), businessID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, sub)
}

func (h *Handler) subscriptionHistory(w http.ResponseWriter, r *http.Request) {
	businessID, err := pathID(r, "businessID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	subs, err := h.billing.History(r.Context(), businessID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if subs == nil {
		subs = []subscription.Subscription{}
	}
	ok(w, subs)
}

// cancelSubscription reads its options from the query string:
// immediately (bool) and reason.
func (h *Handler) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	businessID, err := pathID(r, "businessID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	var immediately bool
	if v := q.Get("immediately"); v != "" {
		if immediately, err = strconv.ParseBool(v); err != nil {
			h.fail(w, r, ValidationError{"immediately": {"must be a boolean"}})
			return
		}
	}
	reason := q.Get("reason")
	if len(reason) > 255 {
		h.fail(w, r, ValidationError{"reason": {"must be at most 255 characters"}})
		return
	}

	sub, err := h.billing.Cancel(r.Context(), businessID, subscription.CancelRequest{
		Immediately: immediately,
		Reason:      reason,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, sub)
}

func (h *Handler) resumeSubscription(w http.ResponseWriter, r *http.Request) {
	businessID, err := pathID(r, "businessID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sub, err := h.billing.Resume(r.Context(), businessID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, sub)
}

type applyDiscountRequest struct {
	Code   string `json:"code" validate:"required,max=64"`
	UserID string `json:"user_id" validate:"omitempty,max=128"`
}

type applyDiscountResponse struct {
	Subscription *subscription.Subscription `json:"subscription"`
	Discount     *discount.Calculation      `json:"discount"`
}

func (h *Handler) applyDiscount(w http.ResponseWriter, r *http.Request) {
	businessID, err := pathID(r, "businessID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req applyDiscountRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	sub, calc, err := h.billing.ApplyDiscount(r.Context(), businessID, req.Code, req.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, applyDiscountResponse{Subscription: sub, Discount: calc})
}

type validateDiscountRequest struct {
	Code   string `json:"code" validate:"required,max=64"`
	PlanID string `json:"plan_id" validate:"required,max=64"`
	UserID string `json:"user_id" validate:"omitempty,max=128"`
}

type validateDiscountResponse struct {
	Valid    bool                  `json:"valid"`
	Reason   string                `json:"reason,omitempty"`
	Code     string                `json:"code,omitempty"`
	Discount *discount.Calculation `json:"discount,omitempty"`
}

// validateDiscount answers 200 for both valid and rejected codes; the
// rejection reason is part of the payload.
func (h *Handler) validateDiscount(w http.ResponseWriter, r *http.Request) {
	var req validateDiscountRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.billing.ValidateDiscount(r.Context(), req.Code, req.PlanID, req.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	out := validateDiscountResponse{Valid: res.Valid, Discount: res.Discount}
	if res.Code != nil {
		out.Code = res.Code.Code
	}
	if res.Reason != nil {
		out.Reason = res.Reason.Error()
	}
	ok(w, out)
}

func (h *Handler) listPlans(w http.ResponseWriter, _ *http.Request) {
	ok(w, h.billing.Plans())
}

type contactRequest struct {
	OwnerUserID  string `json:"owner_user_id" validate:"required,max=128"`
	OwnerName    string `json:"owner_name" validate:"omitempty,max=255"`
	Email        string `json:"email" validate:"required,email"`
	BusinessName string `json:"business_name" validate:"required,max=255"`
}

func (h *Handler) saveContact(w http.ResponseWriter, r *http.Request) {
	businessID, err := pathID(r, "businessID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req contactRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	rcp := notify.Recipient{Name: req.OwnerName, Email: req.Email, BusinessName: req.BusinessName}
	if err := h.contacts.Save(r.Context(), businessID, req.OwnerUserID, rcp); err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, rcp)
}
