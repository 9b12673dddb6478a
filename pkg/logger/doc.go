// Package logger builds *slog.Logger instances for billing services.
//
// New assembles a text or JSON handler from functional options and wraps it
// with LogHandlerDecorator, which runs registered ContextExtractor callbacks on
// every record. WithEnvironment applies per-environment defaults.
//
// Attribute helpers in attr.go keep key names consistent across packages:
//
//	log.WarnContext(ctx, "payment retry failed",
//	    logger.SubscriptionID(sub.ID),
//	    logger.RetryCount(sub.FailedPaymentCount),
//	    logger.Error(err),
//	)
//
// Error returns an empty attribute for a nil error, so callers can pass
// possibly-nil errors without a check.
package logger
