package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/a-h/templ"
	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/email"
	"github.com/dmitrymomot/billingkit/pkg/email/templates"
	"github.com/dmitrymomot/billingkit/pkg/logger"
)

const (
	TagRenewalConfirmation      = "renewal_confirmation"
	TagPaymentRetryFailure      = "payment_retry_failure"
	TagPaymentEscalation        = "payment_escalation"
	TagSubscriptionCancellation = "subscription_cancellation"
)

// EmailSender renders notifications and hands them to an email.EmailSender.
// Owner-facing mail goes to the Directory's owner; escalations go to the
// support address.
type EmailSender struct {
	mailer  email.EmailSender
	dir     Directory
	support string
	logger  *slog.Logger
}

// EmailSenderOption configures an EmailSender.
type EmailSenderOption func(*EmailSender)

// WithEmailLogger sets the logger.
func WithEmailLogger(l *slog.Logger) EmailSenderOption {
	return func(s *EmailSender) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewEmailSender creates an EmailSender. support receives escalations.
func NewEmailSender(mailer email.EmailSender, dir Directory, support string, opts ...EmailSenderOption) *EmailSender {
	if mailer == nil {
		panic("notify: email sender is required")
	}
	if dir == nil {
		panic("notify: directory is required")
	}
	s := &EmailSender{
		mailer:  mailer,
		dir:     dir,
		support: support,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logger.Component("notify"))
	return s
}

// SendRenewalConfirmation implements Sender.
func (s *EmailSender) SendRenewalConfirmation(ctx context.Context, n RenewalConfirmation) error {
	r, err := s.dir.Owner(ctx, n.BusinessID)
	if err != nil {
		return err
	}
	return s.send(ctx, r.Email, "Payment received for "+n.PlanName, TagRenewalConfirmation, n.BusinessID, renewalBody(r, n))
}

// SendPaymentRetryFailure implements Sender.
func (s *EmailSender) SendPaymentRetryFailure(ctx context.Context, n PaymentRetryFailure) error {
	r, err := s.dir.Owner(ctx, n.BusinessID)
	if err != nil {
		return err
	}
	return s.send(ctx, r.Email, "Your payment failed", TagPaymentRetryFailure, n.BusinessID, retryFailureBody(r, n))
}

// SendPaymentEscalation implements Sender. A missing owner record does not
// stop the escalation.
func (s *EmailSender) SendPaymentEscalation(ctx context.Context, n PaymentEscalation) error {
	r, err := s.dir.Owner(ctx, n.BusinessID)
	if err != nil {
		s.logger.LogAttrs(ctx, slog.LevelWarn, "escalating without owner contact",
			logger.BusinessID(n.BusinessID), logger.Error(err))
	}
	subject := fmt.Sprintf("Escalation: %d failed payments for %s", n.FailedCount, n.BusinessID)
	return s.send(ctx, s.support, subject, TagPaymentEscalation, n.BusinessID, escalationBody(r, n))
}

// SendSubscriptionCancellation implements Sender.
func (s *EmailSender) SendSubscriptionCancellation(ctx context.Context, n SubscriptionCancellation) error {
	r, err := s.dir.Owner(ctx, n.BusinessID)
	if err != nil {
		return err
	}
	return s.send(ctx, r.Email, "Your subscription was canceled", TagSubscriptionCancellation, n.BusinessID, cancellationBody(r, n))
}

func (s *EmailSender) send(ctx context.Context, to, subject, tag string, businessID uuid.UUID, body templ.Component) error {
	html, err := templates.Render(ctx, body)
	if err != nil {
		return fmt.Errorf("notify: render %s: %w", tag, err)
	}
	if err := s.mailer.SendEmail(ctx, email.SendEmailParams{
		SendTo:   to,
		Subject:  subject,
		BodyHTML: html,
		Tag:      tag,
	}); err != nil {
		return err
	}
	s.logger.LogAttrs(ctx, slog.LevelDebug, "notification sent",
		slog.String("tag", tag), logger.BusinessID(businessID))
	return nil
}
