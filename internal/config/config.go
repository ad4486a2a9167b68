package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bigbear0079/jimeng-pool/internal/model"
)

// Config holds all application configuration.
type Config struct {
	Gateway struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"gateway"`
	Tempmail struct {
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
	} `yaml:"tempmail"`
	Proxy struct {
		Host      string   `yaml:"host"`
		PortStart int      `yaml:"port_start"`
		PortEnd   int      `yaml:"port_end"`
		Endpoints []string `yaml:"endpoints"`
	} `yaml:"proxy"`
	Acquire struct {
		Region        string `yaml:"region"`
		SlotCapacity  int    `yaml:"slot_capacity"`
		TimeoutSec    int    `yaml:"timeout_sec"`
		BatchDelaySec int    `yaml:"batch_delay_sec"`
		LoginURLIntl  string `yaml:"login_url_intl"`
		LoginURLCN    string `yaml:"login_url_cn"`
	} `yaml:"acquire"`
	Credits struct {
		MinCredits      int `yaml:"min_credits"`
		MinCreditsVideo int `yaml:"min_credits_video"`
	} `yaml:"credits"`
	Ledger struct {
		StateFile string `yaml:"state_file"`
	} `yaml:"ledger"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Schedule struct {
		RefreshCron string `yaml:"refresh_cron"`
	} `yaml:"schedule"`
}

// Load reads config from a YAML file, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("JIMENG_GATEWAY_URL"); v != "" {
		cfg.Gateway.BaseURL = v
	}
	if v := os.Getenv("TEMPMAIL_API_KEY"); v != "" {
		cfg.Tempmail.APIKey = v
	}
	if v := os.Getenv("PROXY_HOST"); v != "" {
		cfg.Proxy.Host = v
	}
	if v := os.Getenv("LEDGER_FILE"); v != "" {
		cfg.Ledger.StateFile = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("ACQUIRE_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Acquire.TimeoutSec = n
		}
	}

	// Defaults
	if cfg.Gateway.BaseURL == "" {
		cfg.Gateway.BaseURL = "http://127.0.0.1:5100"
	}
	if cfg.Tempmail.BaseURL == "" {
		cfg.Tempmail.BaseURL = "https://api.tempmail.lol"
	}
	if cfg.Proxy.Host == "" {
		cfg.Proxy.Host = "127.0.0.1"
	}
	if cfg.Proxy.PortStart == 0 {
		cfg.Proxy.PortStart = 7891
	}
	if cfg.Proxy.PortEnd == 0 {
		cfg.Proxy.PortEnd = 7972
	}
	if cfg.Acquire.Region == "" {
		cfg.Acquire.Region = model.RegionUS
	}
	if cfg.Acquire.SlotCapacity == 0 {
		cfg.Acquire.SlotCapacity = 4
	}
	if cfg.Acquire.TimeoutSec == 0 {
		cfg.Acquire.TimeoutSec = 120
	}
	if cfg.Acquire.BatchDelaySec == 0 {
		cfg.Acquire.BatchDelaySec = 5
	}
	if cfg.Acquire.LoginURLIntl == "" {
		cfg.Acquire.LoginURLIntl = "https://dreamina.capcut.com/ai-tool/image/generate"
	}
	if cfg.Acquire.LoginURLCN == "" {
		cfg.Acquire.LoginURLCN = "https://jimeng.jianying.com/ai-tool/image/generate"
	}
	if cfg.Credits.MinCredits == 0 {
		cfg.Credits.MinCredits = 4
	}
	if cfg.Credits.MinCreditsVideo == 0 {
		cfg.Credits.MinCreditsVideo = 8
	}
	if cfg.Ledger.StateFile == "" {
		cfg.Ledger.StateFile = "accounts.json"
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/jimeng_pool.db"
	}
	if cfg.Schedule.RefreshCron == "" {
		cfg.Schedule.RefreshCron = "5 0 * * *"
	}

	return cfg, nil
}

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("gateway.base_url is required")
	}
	if c.Acquire.SlotCapacity <= 0 {
		return fmt.Errorf("acquire.slot_capacity must be positive")
	}
	if len(c.Proxy.Endpoints) == 0 && c.Proxy.PortStart > c.Proxy.PortEnd {
		return fmt.Errorf("proxy.port_start must not exceed proxy.port_end")
	}
	return nil
}

// AcquireTimeout returns the overall per-worker acquisition deadline.
func (c *Config) AcquireTimeout() time.Duration {
	return time.Duration(c.Acquire.TimeoutSec) * time.Second
}

// BatchDelay returns the inter-attempt delay for sequential batch mode.
func (c *Config) BatchDelay() time.Duration {
	return time.Duration(c.Acquire.BatchDelaySec) * time.Second
}

// LoginURL returns the login entry point for a region.
func (c *Config) LoginURL(region string) string {
	if region == model.RegionCN {
		return c.Acquire.LoginURLCN
	}
	return c.Acquire.LoginURLIntl
}

// ProxyEndpoints returns the explicit endpoint list if configured, otherwise
// the host:port list built from the configured port range.
func (c *Config) ProxyEndpoints() []string {
	if len(c.Proxy.Endpoints) > 0 {
		return c.Proxy.Endpoints
	}
	var list []string
	for port := c.Proxy.PortStart; port <= c.Proxy.PortEnd; port++ {
		list = append(list, fmt.Sprintf("%s:%d", c.Proxy.Host, port))
	}
	return list
}

// EnvAccounts scans JIMENG_TOKEN_1..100 from the environment and returns the
// configured account map keyed by account id.
func EnvAccounts() map[int]model.EnvAccount {
	accounts := make(map[int]model.EnvAccount)
	for i := 1; i <= 100; i++ {
		token := os.Getenv(fmt.Sprintf("JIMENG_TOKEN_%d", i))
		if token == "" {
			continue
		}
		region, _ := model.ParseToken(token)
		if v := os.Getenv(fmt.Sprintf("JIMENG_REGION_%d", i)); v != "" {
			region = v
		}
		accounts[i] = model.EnvAccount{Token: token, Region: region}
	}
	return accounts
}
