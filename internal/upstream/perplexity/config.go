package perplexity

// Config contains upstream connection settings. SessionToken is the
// opaque web session cookie value of an authenticated upstream user.
type Config struct {
	SessionToken string `env:"PERPLEXITY_SESSION_TOKEN"`
	BaseURL      string `env:"PERPLEXITY_BASE_URL"      envDefault:"https://www.perplexity.ai"`
	Timeout      int    `env:"PERPLEXITY_TIMEOUT"       envDefault:"30"`
	TurnTimeout  int    `env:"PERPLEXITY_TURN_TIMEOUT"  envDefault:"180"`
}
