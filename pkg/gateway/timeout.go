package gateway

import (
	"context"
	"fmt"
	"time"
)

// WithTimeout bounds every call of g by d. A call still running when the
// deadline passes is abandoned and reported as a CodeTimeout failure, so a
// gateway that ignores its context cannot block billing.
func WithTimeout(g Gateway, d time.Duration) Gateway {
	if d <= 0 {
		return g
	}
	return &timeoutGateway{next: g, timeout: d}
}

type timeoutGateway struct {
	next    Gateway
	timeout time.Duration
}

func (t *timeoutGateway) Charge(ctx context.Context, req ChargeRequest) Result {
	return t.call(ctx, func(ctx context.Context) Result { return t.next.Charge(ctx, req) })
}

func (t *timeoutGateway) Refund(ctx context.Context, req RefundRequest) Result {
	return t.call(ctx, func(ctx context.Context) Result { return t.next.Refund(ctx, req) })
}

func (t *timeoutGateway) Cancel(ctx context.Context, id string) Result {
	return t.call(ctx, func(ctx context.Context) Result { return t.next.Cancel(ctx, id) })
}

func (t *timeoutGateway) Retrieve(ctx context.Context, id string) Result {
	return t.call(ctx, func(ctx context.Context) Result { return t.next.Retrieve(ctx, id) })
}

func (t *timeoutGateway) Lookup(ctx context.Context, paymentID string) Result {
	return t.call(ctx, func(ctx context.Context) Result { return t.next.Lookup(ctx, paymentID) })
}

func (t *timeoutGateway) call(ctx context.Context, fn func(context.Context) Result) Result {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	done := make(chan Result, 1)
	go func() { done <- fn(ctx) }()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		return Failure(CodeTimeout, fmt.Sprintf("gateway call did not complete within %s", t.timeout))
	}
}
