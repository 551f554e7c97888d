package config

// RPC groups the JSON-RPC server knobs.
type RPC struct {
	// JWTSecretEnv names the environment variable holding the HMAC secret
	// for admin methods. Admin methods are disabled when it is unset.
	JWTSecretEnv        string   `toml:"JWTSecretEnv"`
	JWTIssuer           string   `toml:"JWTIssuer"`
	RateLimitPerSecond  float64  `toml:"RateLimitPerSecond"`
	RateLimitBurst      int      `toml:"RateLimitBurst"`
	AllowedOrigins      []string `toml:"AllowedOrigins"`
	TrustProxyHeaders   bool     `toml:"TrustProxyHeaders"`
	ReadTimeoutSeconds  int      `toml:"ReadTimeoutSeconds"`
	WriteTimeoutSeconds int      `toml:"WriteTimeoutSeconds"`
	MaxBodyBytes        int64    `toml:"MaxBodyBytes"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Endpoint    string  `toml:"Endpoint"`
	Insecure    bool    `toml:"Insecure"`
	Headers     string  `toml:"Headers"`
	Traces      bool    `toml:"Traces"`
	Metrics     bool    `toml:"Metrics"`
	SampleRatio float64 `toml:"SampleRatio"`
}

// Payout points disbursements at an external payout rail. Leaving WebhookURL
// empty keeps payouts inside the ledger accounts.
type Payout struct {
	WebhookURL     string `toml:"WebhookURL"`
	TokenEnv       string `toml:"TokenEnv"`
	TimeoutSeconds int    `toml:"TimeoutSeconds"`
}

// GenesisAlloc credits an account when the ledger is first created.
type GenesisAlloc struct {
	Address string `toml:"Address"`
	Balance string `toml:"Balance"`
}
