package email

import (
	"errors"
	"fmt"

	"github.com/dmitrymomot/billingkit/pkg/billingerr"
)

var (
	ErrFailedToSendEmail = errors.New("email: failed to send")
	ErrInvalidConfig     = fmt.Errorf("%w: email: invalid config", billingerr.ErrConfiguration)
	ErrInvalidParams     = fmt.Errorf("%w: email: invalid params", billingerr.ErrValidation)
)
