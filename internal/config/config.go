package config

import "time"

type Config struct {
	ConfigVersion int              `yaml:"configVersion"`
	Engine        EngineConfig     `yaml:"engine"`
	Whitelist     []WhitelistEntry `yaml:"whitelist"`
	Server        ServerConfig     `yaml:"server"`
	Logging       LoggingConfig    `yaml:"logging"`
	Metrics       MetricsConfig    `yaml:"metrics"`

	baseDir string `yaml:"-"`
}

type EngineConfig struct {
	Rules            string      `yaml:"rules"`
	RiskLevel        string      `yaml:"riskLevel"`
	VerdictCacheSize int         `yaml:"verdictCacheSize"`
	Watch            WatchConfig `yaml:"watch"`
}

type WatchConfig struct {
	Enabled             bool          `yaml:"enabled"`
	Debounce            time.Duration `yaml:"debounce"`
	MaxReloadsPerMinute int           `yaml:"maxReloadsPerMinute"`
}

type WhitelistEntry struct {
	Rule    string `yaml:"rule"`
	Payload string `yaml:"payload"`
}

type ServerConfig struct {
	Listen          string    `yaml:"listen"`
	Upstream        string    `yaml:"upstream"`
	Mode            string    `yaml:"mode"`
	FailMode        string    `yaml:"failMode"`
	MaxBodyBytes    int64     `yaml:"maxBodyBytes"`
	BlockStatusCode int       `yaml:"blockStatusCode"`
	TLS             TLSConfig `yaml:"tls"`
}

type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"certFile"`
	KeyFile  string `yaml:"keyFile"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	VerdictLog string `yaml:"verdictLog"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

const (
	ModeEnforce = "enforce"
	ModeShadow  = "shadow"

	FailOpen   = "open"
	FailClosed = "closed"
)

const (
	defaultDebounce        = 250 * time.Millisecond
	defaultReloadsPerMin   = 30
	defaultMaxBodyBytes    = 1 << 20
	defaultBlockStatusCode = 403
)

func (c *Config) BaseDir() string {
	return c.baseDir
}

func (c *Config) ResolvePath(path string) string {
	return c.resolvePath(path)
}

// RulesPath is the rule source resolved against the config directory.
func (c *Config) RulesPath() string {
	return c.resolvePath(c.Engine.Rules)
}

func (c *Config) applyDefaults() {
	if c.Engine.RiskLevel == "" {
		c.Engine.RiskLevel = "medium"
	}
	if c.Engine.Watch.Debounce == 0 {
		c.Engine.Watch.Debounce = defaultDebounce
	}
	if c.Engine.Watch.MaxReloadsPerMinute == 0 {
		c.Engine.Watch.MaxReloadsPerMinute = defaultReloadsPerMin
	}
	if c.Server.Mode == "" {
		c.Server.Mode = ModeEnforce
	}
	if c.Server.FailMode == "" {
		c.Server.FailMode = FailOpen
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = defaultMaxBodyBytes
	}
	if c.Server.BlockStatusCode == 0 {
		c.Server.BlockStatusCode = defaultBlockStatusCode
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}
