// Package gatewaytest provides a scripted gateway.Gateway for tests.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrymomot/billingkit/pkg/gateway"
)

// Scripted returns queued results in order and falls back to a default
// outcome once the queue is empty. Successful results without a provider id
// get a generated one. Every request is recorded.
type Scripted struct {
	mu       sync.Mutex
	queue    []gateway.Result
	fallback gateway.Result
	seq      int

	charges   []gateway.ChargeRequest
	refunds   []gateway.RefundRequest
	canceled  []string
	retrieved []string
	byPayment map[string]gateway.Result

	RefundResult   gateway.Result
	CancelResult   gateway.Result
	RetrieveResult gateway.Result
}

// New returns a gateway whose every call succeeds.
func New() *Scripted {
	return &Scripted{
		byPayment:      make(map[string]gateway.Result),
		fallback:       gateway.Success(""),
		RefundResult:   gateway.Success(""),
		CancelResult:   gateway.Success(""),
		RetrieveResult: gateway.Success(""),
	}
}

// Declining returns a gateway whose charges fail with a card decline.
func Declining() *Scripted {
	s := New()
	s.fallback = Decline()
	return s
}

// Decline is the result of a declined card.
func Decline() gateway.Result {
	return gateway.Failure("card_declined", "Your card was declined.")
}

// Queue appends charge results returned before the fallback applies.
func (s *Scripted) Queue(results ...gateway.Result) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, results...)
	return s
}

// SetFallback changes the result used once the queue is empty.
func (s *Scripted) SetFallback(r gateway.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = r
}

func (s *Scripted) Charge(_ context.Context, req gateway.ChargeRequest) gateway.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.charges = append(s.charges, req)

	res := s.fallback
	if len(s.queue) > 0 {
		res, s.queue = s.queue[0], s.queue[1:]
	}
	res = s.withID(res, "pi")
	if id := req.Metadata["payment_id"]; id != "" {
		s.byPayment[id] = res
	}
	return res
}

func (s *Scripted) Refund(_ context.Context, req gateway.RefundRequest) gateway.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refunds = append(s.refunds, req)
	return s.withID(s.RefundResult, "re")
}

func (s *Scripted) Cancel(_ context.Context, id string) gateway.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canceled = append(s.canceled, id)
	return s.CancelResult
}

func (s *Scripted) Retrieve(_ context.Context, id string) gateway.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retrieved = append(s.retrieved, id)
	res := s.RetrieveResult
	if res.ProviderID == "" {
		res.ProviderID = id
	}
	return res
}

// Lookup returns the result of the charge made for paymentID, or a
// CodeNotFound failure when none was made.
func (s *Scripted) Lookup(_ context.Context, paymentID string) gateway.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if res, ok := s.byPayment[paymentID]; ok {
		if res.ProviderStatus == "" {
			res.ProviderStatus = "requires_payment_method"
			if res.Succeeded() {
				res.ProviderStatus = "succeeded"
			}
		}
		return res
	}
	return gateway.Failure(gateway.CodeNotFound, "no charge for payment "+paymentID)
}

func (s *Scripted) withID(res gateway.Result, prefix string) gateway.Result {
	if res.Succeeded() && res.ProviderID == "" {
		s.seq++
		res.ProviderID = fmt.Sprintf("%s_%d", prefix, s.seq)
	}
	return res
}

// Charges returns a copy of the recorded charge requests.
func (s *Scripted) Charges() []gateway.ChargeRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gateway.ChargeRequest(nil), s.charges...)
}

// Refunds returns a copy of the recorded refund requests.
func (s *Scripted) Refunds() []gateway.RefundRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gateway.RefundRequest(nil), s.refunds...)
}

// Canceled returns the provider ids passed to Cancel.
func (s *Scripted) Canceled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.canceled...)
}
