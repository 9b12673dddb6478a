// Package ledger is the append-only record of charge attempts.
//
// Ledger.Charge writes a pending Payment before the gateway is called and
// updates it with the outcome afterwards, so a crash mid-call leaves an
// inspectable pending row (see StalePending) instead of a lost attempt. Each
// attempt uses its own idempotency key derived from the payment id.
//
// Refund and Cancel are serialized per payment through a lock.Locker and guarded
// by a status compare-and-set in the Store. The refunded amount never exceeds
// the original amount, and a payment is refunded at most once.
package ledger
