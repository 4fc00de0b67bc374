package whatsapp

import "time"

const DefaultBaseURL = "https://graph.facebook.com"

// Config is loaded with the WHATSAPP prefix.
type Config struct {
	Token         string        `split_words:"true" required:"true"`
	PhoneNumberID string        `split_words:"true" required:"true"`
	VerifyToken   string        `split_words:"true" required:"true"`
	APIVersion    string        `envconfig:"API_VERSION" default:"v22.0"`
	BaseURL       string        `split_words:"true" default:"https://graph.facebook.com"`
	Timeout       time.Duration `split_words:"true" default:"30s"`
	MediaTimeout  time.Duration `split_words:"true" default:"60s"`
	MediaDir      string        `split_words:"true"`
}
