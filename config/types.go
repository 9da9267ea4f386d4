package config

// OracleConfig selects the price-round source.
type OracleConfig struct {
	// Mode is "manual" (operator-published rounds) or "chainlink".
	Mode string `toml:"Mode"`
	// FeedAddress is the Chainlink aggregator contract, hex encoded.
	FeedAddress string `toml:"FeedAddress"`
	// ManualDecimals is the answer precision of the manual feed.
	ManualDecimals uint8 `toml:"ManualDecimals"`
	// ManualAnswer seeds the manual feed with an initial round when set.
	ManualAnswer string `toml:"ManualAnswer"`
}

// ChainConfig points at the EVM JSON-RPC endpoint used for Chainlink reads
// and ERC20 capability checks.
type ChainConfig struct {
	RPCURL string `toml:"RPCURL"`
}

// AuthConfig controls bearer-token authentication of the HTTP API.
type AuthConfig struct {
	Enabled       bool   `toml:"Enabled"`
	HMACSecret    string `toml:"HMACSecret"`
	HMACSecretEnv string `toml:"HMACSecretEnv"`
	Issuer        string `toml:"Issuer"`
	Audience      string `toml:"Audience"`
}

// RateLimitConfig throttles the HTTP API per caller. A zero rate disables it.
type RateLimitConfig struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
	// MutationTokens is the bucket cost of a state-changing request.
	MutationTokens int `toml:"MutationTokens"`
}

// TelemetryConfig wires the OTLP exporters.
type TelemetryConfig struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Headers  string `toml:"Headers"`
	Traces   bool   `toml:"Traces"`
	Metrics  bool   `toml:"Metrics"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level       string `toml:"Level"`
	Environment string `toml:"Environment"`
}
