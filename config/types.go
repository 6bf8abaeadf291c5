package config

// Policy selects the escrow engine knobs.
type Policy struct {
	// DepositExpiry is "reject" or "allow".
	DepositExpiry     string   `toml:"DepositExpiry"`
	RestrictDepositor bool     `toml:"RestrictDepositor"`
	DefaultOracles    []string `toml:"DefaultOracles"`
}

// GenesisAllocation credits Amount base units of Mint to Owner when the store
// is first opened. An empty Mint means the deposit mint.
type GenesisAllocation struct {
	Owner  string `toml:"Owner"`
	Mint   string `toml:"Mint,omitempty"`
	Amount uint64 `toml:"Amount"`
}

type Logging struct {
	Level      string `toml:"Level"`
	File       string `toml:"File,omitempty"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

type Telemetry struct {
	ServiceName string            `toml:"ServiceName"`
	Endpoint    string            `toml:"Endpoint"`
	Insecure    bool              `toml:"Insecure"`
	Headers     map[string]string `toml:"Headers,omitempty"`
	Traces      bool              `toml:"Traces"`
	Metrics     bool              `toml:"Metrics"`
	SampleRatio float64           `toml:"SampleRatio"`
}

// Auth configures bearer tokens on the JSON-RPC endpoint. The secret may be
// supplied through SecretEnv instead of the file.
type Auth struct {
	Enabled          bool   `toml:"Enabled"`
	HMACSecret       string `toml:"HMACSecret,omitempty"`
	SecretEnv        string `toml:"SecretEnv,omitempty"`
	Issuer           string `toml:"Issuer,omitempty"`
	Audience         string `toml:"Audience,omitempty"`
	ScopeClaim       string `toml:"ScopeClaim"`
	AllowAnonymous   bool   `toml:"AllowAnonymous"`
	ClockSkewSeconds int    `toml:"ClockSkewSeconds"`
}

// RateLimit applies per client to the JSON-RPC endpoint. Zero disables it.
type RateLimit struct {
	RequestsPerMinute int `toml:"RequestsPerMinute"`
	Burst             int `toml:"Burst"`
}

type CORS struct {
	AllowedOrigins []string `toml:"AllowedOrigins"`
}

type Indexer struct {
	Enabled bool   `toml:"Enabled"`
	Path    string `toml:"Path"`
}
