package logger

import (
	"log/slog"
	"time"
)

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Component records the component name under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// BusinessID records the tenant business identifier under the key "business_id".
func BusinessID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("business_id", id)
}

// SubscriptionID records the subscription identifier under the key "subscription_id".
func SubscriptionID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("subscription_id", id)
}

// PaymentID records the ledger payment identifier under the key "payment_id".
func PaymentID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("payment_id", id)
}

// DiscountCode records a discount code under the key "discount_code".
func DiscountCode(code string) slog.Attr {
	return slog.String("discount_code", code)
}

// Amount groups an amount in minor units with its currency under the key "amount".
func Amount(minor int64, currency string) slog.Attr {
	return slog.Group("amount", slog.Int64("minor", minor), slog.String("currency", currency))
}

// Status records a lifecycle status under the key "status".
func Status(s any) slog.Attr {
	return slog.Any("status", s)
}

// RetryCount records the retry count under the key "retry_count".
func RetryCount(count int) slog.Attr {
	return slog.Int("retry_count", count)
}

// Duration records a duration under the key "duration".
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}
