// Package gateway is the only boundary through which billing moves money.
//
// Every call returns a normalized Result instead of an error: declines,
// transport errors, timeouts and malformed responses all become a Failure
// with a code and message, so callers always have something to record in the
// ledger. Implementations never retry; retry policy belongs to the dunning
// scheduler.
package gateway

import "context"

// Status is the normalized outcome of a gateway call.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Failure codes produced by the adapter itself rather than the provider.
const (
	CodeTimeout           = "timeout"
	CodeTransport         = "transport_error"
	CodeMalformedResponse = "malformed_response"
	CodeInvalidRequest    = "invalid_request"
	CodeNotFound          = "not_found" // Lookup found no charge for the reference
)

// RequiresCustomerAction reports whether a failure code means the customer
// has to authenticate the payment before it can succeed.
func RequiresCustomerAction(code string) bool {
	switch code {
	case "payment_intent_requires_action", "authentication_required":
		return true
	}
	return false
}

// Result is the normalized response of any gateway operation.
type Result struct {
	Status         Status
	ProviderID     string // payment or refund id assigned by the provider
	ProviderStatus string // raw provider status, when one was returned
	ErrorCode      string
	ErrorMessage   string
}

func (r Result) Succeeded() bool {
	return r.Status == StatusSuccess
}

// Success builds a successful result.
func Success(providerID string) Result {
	return Result{Status: StatusSuccess, ProviderID: providerID}
}

// Failure builds a failed result.
func Failure(code, message string) Result {
	return Result{Status: StatusFailure, ErrorCode: code, ErrorMessage: message}
}

// ChargeRequest charges a stored payment method off-session.
type ChargeRequest struct {
	IdempotencyKey     string // unique per attempt; replaying it never charges twice
	Amount             int64  // minor units
	Currency           string
	CustomerID         string
	PaymentMethodToken string
	Description        string
	Metadata           map[string]string
}

// RefundRequest returns money for a previously successful charge.
type RefundRequest struct {
	IdempotencyKey    string
	ProviderPaymentID string
	Amount            int64
	Reason            string
}

// Gateway is implemented by payment providers.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) Result
	Refund(ctx context.Context, req RefundRequest) Result
	// Cancel voids a charge that has not completed; it never aborts an in-flight call.
	Cancel(ctx context.Context, providerPaymentID string) Result
	// Retrieve reports the provider's current view of a charge.
	Retrieve(ctx context.Context, providerPaymentID string) Result
	// Lookup finds the charge created for a ledger payment id, passed as
	// the payment_id metadata of the ChargeRequest. It resolves attempts
	// whose provider id was never recorded and fails with CodeNotFound
	// when the provider has no such charge.
	Lookup(ctx context.Context, paymentID string) Result
}
