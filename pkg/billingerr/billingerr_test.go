package billingerr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/billingkit/pkg/billingerr"
)

func TestCategory(t *testing.T) {
	t.Parallel()

	errAlreadyRefunded := billingerr.New(billingerr.ErrStateConflict, "payment already refunded")
	wrapped := fmt.Errorf("refund payment: %w", errAlreadyRefunded)

	assert.ErrorIs(t, wrapped, errAlreadyRefunded)
	assert.ErrorIs(t, wrapped, billingerr.ErrStateConflict)
	assert.Equal(t, billingerr.ErrStateConflict, billingerr.Category(wrapped))
	assert.Equal(t, "state conflict: payment already refunded", errAlreadyRefunded.Error())
	assert.Nil(t, billingerr.Category(errors.New("plain")))
}
