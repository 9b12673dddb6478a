package email

// Config holds the outbound email settings.
// Postmark tokens are optional so development builds can write messages to
// DevOutputDir instead of sending them.
type Config struct {
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string `env:"SENDER_EMAIL,required"`
	SupportEmail         string `env:"SUPPORT_EMAIL,required"`
	DevOutputDir         string `env:"EMAIL_DEV_DIR" envDefault:"./tmp/emails"`
}

// Postmark reports whether both Postmark tokens are set.
func (c Config) Postmark() bool {
	return c.PostmarkServerToken != "" && c.PostmarkAccountToken != ""
}
