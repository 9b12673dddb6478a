// Package discount validates discount codes and records their consumption.
//
// Validation and application are separate steps. Engine.Validate checks a
// code against a plan, a price and a user without side effects, typically at
// subscribe time; the result becomes a Pending discount stored on the
// subscription. Engine.Apply runs only after a payment has succeeded: it writes
// a Usage row and returns the Pending state left over, decrementing recurring
// codes until they are exhausted.
//
// Amounts are int64 minor units. Percentage math uses shopspring/decimal and
// rounds half away from zero; the final amount is never negative.
package discount
