// Package api exposes the billing service over a JSON HTTP API routed with chi.
//
// Routes:
//
//	POST   /v1/businesses/{businessID}/subscription           subscribe
//	GET    /v1/businesses/{businessID}/subscription           current subscription
//	DELETE /v1/businesses/{businessID}/subscription           cancel (?immediately=true&reason=...)
//	POST   /v1/businesses/{businessID}/subscription/resume    undo a scheduled cancellation
//	POST   /v1/businesses/{businessID}/subscription/discount  attach a discount code
//	GET    /v1/businesses/{businessID}/subscriptions          subscription history
//	PUT    /v1/businesses/{businessID}/contact                billing contact for notifications
//	GET    /v1/plans                                          plan catalog
//	POST   /v1/discounts/validate                             dry-run a discount code
//	GET    /v1/subscriptions/{subscriptionID}/payments        payment history
//	POST   /v1/payments/{paymentID}/refund                    refund a succeeded payment
//	POST   /v1/payments/{paymentID}/cancel                    cancel a pending payment
//	GET    /healthz                                           readiness
//	GET    /metrics                                           Prometheus exposition
//
// Every response uses the Response envelope. Errors are mapped from their
// billingerr category: validation 422, not found 404, state conflict 409,
// configuration 412 and gateway failure 402.
package api
