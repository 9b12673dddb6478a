package dunning

import (
	"fmt"

	"github.com/dmitrymomot/billingkit/pkg/billingerr"
)

var ErrInvalidConfig = fmt.Errorf("%w: dunning: invalid config", billingerr.ErrConfiguration)
