package notify

import (
	"fmt"

	"github.com/dmitrymomot/billingkit/pkg/billingerr"
)

var (
	ErrRecipientNotFound = fmt.Errorf("%w: notify: recipient not found", billingerr.ErrNotFound)
	ErrUnknownCurrency   = fmt.Errorf("%w: notify: unknown currency", billingerr.ErrValidation)
	ErrSenderClosed      = fmt.Errorf("%w: notify: sender closed", billingerr.ErrStateConflict)
)
