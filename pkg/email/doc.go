// Package email sends rendered billing mail through Postmark, or writes it to
// disk with DevSender when no Postmark tokens are configured.
//
//	sender, err := email.New(cfg)
//	err = sender.SendEmail(ctx, email.SendEmailParams{
//		SendTo:   "owner@example.com",
//		Subject:  "Your payment failed",
//		BodyHTML: html,
//		Tag:      "payment_retry_failure",
//	})
package email
