package config

// Vault captures the host identity, storage layout and policy knobs.
type Vault struct {
	Owner              string `toml:"owner"`
	OwnerKeystore      string `toml:"owner_keystore"`
	DataDir            string `toml:"data_dir"`
	JournalDir         string `toml:"journal_dir"`
	Genesis            string `toml:"genesis"`
	SlippageCeilingBps uint32 `toml:"slippage_ceiling_bps"`
	InitialSlippageBps uint32 `toml:"initial_slippage_bps"`
	PausePolicy        string `toml:"pause_policy"`
}

// Flash configures the in-process flash-loan pool and swap venue.
type Flash struct {
	FeeBps      uint32 `toml:"fee_bps"`
	FeeSource   string `toml:"fee_source"`
	VenueFeeBps uint32 `toml:"venue_fee_bps"`
}

// RPC configures the HTTP surface.
type RPC struct {
	Listen              string  `toml:"listen"`
	JWTSecret           string  `toml:"jwt_secret"`
	JWTIssuer           string  `toml:"jwt_issuer"`
	RateLimitPerSecond  float64 `toml:"rate_limit_per_second"`
	RateLimitBurst      int     `toml:"rate_limit_burst"`
	IdempotencyDB       string  `toml:"idempotency_db"`
	ReadTimeoutSeconds  int     `toml:"read_timeout_seconds"`
	WriteTimeoutSeconds int     `toml:"write_timeout_seconds"`
}

// Gas configures the cost estimator sources.
type Gas struct {
	APIURL            string  `toml:"api_url"`
	NodeURL           string  `toml:"node_url"`
	DefaultGwei       float64 `toml:"default_gwei"`
	Tier              string  `toml:"tier"`
	MarginPercent     uint32  `toml:"margin_percent"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// Telemetry mirrors the OTLP exporter options.
type Telemetry struct {
	Endpoint    string  `toml:"endpoint"`
	Insecure    bool    `toml:"insecure"`
	Headers     string  `toml:"headers"`
	Metrics     bool    `toml:"metrics"`
	Traces      bool    `toml:"traces"`
	SampleRatio float64 `toml:"sample_ratio"`
}

// Webhook forwards committed events to an external endpoint. An empty URL
// disables forwarding; Events limits the forwarded event types.
type Webhook struct {
	URL         string   `toml:"url"`
	Secret      string   `toml:"secret"`
	Events      []string `toml:"events"`
	MaxAttempts int      `toml:"max_attempts"`
}

// Log selects the level and optional rotating file sink.
type Log struct {
	Env        string `toml:"env"`
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// Token registers an additional token on a fresh deployment. An empty
// address derives one from the symbol.
type Token struct {
	Symbol      string `toml:"symbol"`
	Address     string `toml:"address"`
	Decimals    uint8  `toml:"decimals"`
	Whitelisted bool   `toml:"whitelisted"`
}
