package ledger

import (
	"errors"

	"github.com/dmitrymomot/billingkit/pkg/billingerr"
)

var (
	ErrPaymentNotFound  = billingerr.New(billingerr.ErrNotFound, "payment not found")
	ErrInvalidAmount    = billingerr.New(billingerr.ErrValidation, "amount must be positive and within the payment")
	ErrInvalidCurrency  = billingerr.New(billingerr.ErrValidation, "currency is required")
	ErrExceedsAmount    = billingerr.New(billingerr.ErrValidation, "refund exceeds the refundable amount")
	ErrAlreadyRefunded  = billingerr.New(billingerr.ErrStateConflict, "payment already refunded")
	ErrAlreadyCanceled  = billingerr.New(billingerr.ErrStateConflict, "payment already canceled")
	ErrNotRefundable    = billingerr.New(billingerr.ErrStateConflict, "only succeeded payments can be refunded")
	ErrNotCancelable    = billingerr.New(billingerr.ErrStateConflict, "payment can no longer be canceled")
	ErrOutcomeUnknown   = billingerr.New(billingerr.ErrStateConflict, "payment outcome is not known yet, retry later")
	ErrConcurrentUpdate = billingerr.New(billingerr.ErrStateConflict, "payment was modified concurrently")
	ErrRefundFailed     = billingerr.New(billingerr.ErrGatewayFailure, "gateway rejected the refund")
	ErrRetrieveFailed   = billingerr.New(billingerr.ErrGatewayFailure, "gateway lookup failed")
)

// ErrOutcomeNotRecorded means money may have moved but the row still says
// pending; it needs manual reconciliation.
var ErrOutcomeNotRecorded = errors.New("gateway outcome could not be recorded")
