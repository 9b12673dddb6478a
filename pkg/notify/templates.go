package notify

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/a-h/templ"
)

const dateLayout = "January 2, 2006"

func layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := fmt.Fprintf(w, `<!DOCTYPE html><html><body style="font-family:Arial,sans-serif;color:#1f2937"><h2>%s</h2>`,
			templ.EscapeString(title)); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, `</body></html>`)
		return err
	})
}

func paragraphs(lines ...string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		for _, l := range lines {
			if _, err := fmt.Fprintf(w, "<p>%s</p>", templ.EscapeString(l)); err != nil {
				return err
			}
		}
		return nil
	})
}

func greeting(r Recipient) string {
	if r.Name == "" {
		return "Hello,"
	}
	return fmt.Sprintf("Hello %s,", r.Name)
}

func renewalBody(r Recipient, n RenewalConfirmation) templ.Component {
	lines := []string{
		greeting(r),
		fmt.Sprintf("We received your payment of %s for the %s plan of %s.",
			formatAmount(n.Amount, n.Currency), n.PlanName, r.BusinessName),
	}
	if n.DiscountAmount > 0 {
		lines = append(lines, fmt.Sprintf("A discount of %s was applied.", formatAmount(n.DiscountAmount, n.Currency)))
	}
	if !n.PeriodEnd.IsZero() {
		lines = append(lines, fmt.Sprintf("Your subscription is active until %s.", n.PeriodEnd.Format(dateLayout)))
	}
	return layout("Payment received", paragraphs(lines...))
}

func retryFailureBody(r Recipient, n PaymentRetryFailure) templ.Component {
	lines := []string{
		greeting(r),
		fmt.Sprintf("We could not charge %s for the %s plan of %s.",
			formatAmount(n.Amount, n.Currency), n.PlanName, r.BusinessName),
	}
	if n.Reason != "" {
		lines = append(lines, "Reason: "+n.Reason)
	}
	if n.NextRetryAt != nil {
		lines = append(lines, fmt.Sprintf("We will try again on %s. Attempt %d of %d failed.",
			n.NextRetryAt.Format(dateLayout), n.FailedCount, n.MaxRetries))
	}
	lines = append(lines, "Please update your payment method to keep your subscription active.")
	return layout("Payment failed", paragraphs(lines...))
}

func escalationBody(r Recipient, n PaymentEscalation) templ.Component {
	return layout("Payment escalation", paragraphs(
		fmt.Sprintf("Business %s (%s) has %d failed payments out of %d allowed.",
			r.BusinessName, n.BusinessID, n.FailedCount, n.MaxRetries),
		fmt.Sprintf("Subscription %s on plan %s, amount %s.",
			n.SubscriptionID, n.PlanName, formatAmount(n.Amount, n.Currency)),
		fmt.Sprintf("Owner contact: %s <%s>.", r.Name, r.Email),
		"Last failure: "+n.LastFailure,
	))
}

func cancellationBody(r Recipient, n SubscriptionCancellation) templ.Component {
	return layout("Subscription canceled", paragraphs(
		greeting(r),
		fmt.Sprintf("The %s subscription of %s was canceled on %s.",
			n.PlanName, r.BusinessName, cancelDate(n.CanceledAt)),
		"Reason: "+n.Reason,
		"You can subscribe again at any time.",
	))
}

func cancelDate(t time.Time) string {
	if t.IsZero() {
		return "today"
	}
	return t.Format(dateLayout)
}
