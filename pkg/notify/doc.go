// Package notify delivers the four billing notifications: renewal
// confirmation, payment retry failure, escalation to support staff and
// subscription cancellation.
//
// EmailSender renders templ bodies and sends them through pkg/email.
// LogSender only logs. Async wraps either one so deliveries run in the
// background and never hold up the transition that triggered them:
//
//	sender := notify.NewAsync(notify.NewEmailSender(mailer, directory, cfg.SupportEmail))
//	defer sender.Close(shutdownCtx)
package notify
