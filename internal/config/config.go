// Package config loads candymint settings from flags, environment variables
// (prefix CANDYMINT_) and an optional config file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"candy-mint/internal/candymachine"
	"candy-mint/internal/logging"
	"candy-mint/internal/solana"
)

// EnvPrefix is the environment variable prefix.
const EnvPrefix = "CANDYMINT"

// Config is the resolved configuration.
type Config struct {
	RPCEndpoint    string         `mapstructure:"rpc_endpoint"`
	WSEndpoint     string         `mapstructure:"ws_endpoint"`
	CandyMachineID string         `mapstructure:"candy_machine_id"`
	ConfigAccount  string         `mapstructure:"config_account"`
	Treasury       string         `mapstructure:"treasury"`
	StartDate      string         `mapstructure:"start_date"`
	TxTimeout      time.Duration  `mapstructure:"tx_timeout"`
	PollInterval   time.Duration  `mapstructure:"poll_interval"`
	Commitment     string         `mapstructure:"commitment"`
	Keypair        string         `mapstructure:"keypair"`
	HTTPAddr       string         `mapstructure:"http_addr"`
	MetricsAddr    string         `mapstructure:"metrics_addr"`
	Log            logging.Config `mapstructure:"log"`
}

// SetDefaults registers every key with its default so that environment
// variables are picked up by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("rpc_endpoint", "https://api.devnet.solana.com")
	v.SetDefault("ws_endpoint", "")
	v.SetDefault("candy_machine_id", "")
	v.SetDefault("config_account", "")
	v.SetDefault("treasury", "")
	v.SetDefault("start_date", "")
	v.SetDefault("tx_timeout", 30*time.Second)
	v.SetDefault("poll_interval", time.Second)
	v.SetDefault("commitment", string(solana.CommitmentConfirmed))
	v.SetDefault("keypair", "")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("metrics_addr", ":9090")

	logDefaults := logging.DefaultConfig()
	v.SetDefault("log.level", logDefaults.Level)
	v.SetDefault("log.format", logDefaults.Format)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", logDefaults.MaxSizeMB)
	v.SetDefault("log.max_backups", logDefaults.MaxBackups)
	v.SetDefault("log.max_age_days", logDefaults.MaxAgeDays)
	v.SetDefault("log.compress", logDefaults.Compress)
}

// Load resolves the configuration from v. When the "config" key names a
// file it is read first; flags and environment variables override it.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.WSEndpoint == "" {
		cfg.WSEndpoint = DeriveWSEndpoint(cfg.RPCEndpoint)
	}
	return &cfg, nil
}

// Validate checks that the configuration can drive a mint.
func (c *Config) Validate() error {
	var errs []error

	if err := validateURL(c.RPCEndpoint, "http", "https"); err != nil {
		errs = append(errs, fmt.Errorf("rpc_endpoint: %w", err))
	}
	if c.WSEndpoint != "" {
		if err := validateURL(c.WSEndpoint, "ws", "wss"); err != nil {
			errs = append(errs, fmt.Errorf("ws_endpoint: %w", err))
		}
	}
	if _, err := c.ProgramConfig(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.StartTime(); err != nil {
		errs = append(errs, fmt.Errorf("start_date: %w", err))
	}
	if c.TxTimeout <= 0 {
		errs = append(errs, fmt.Errorf("tx_timeout: must be positive, got %s", c.TxTimeout))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval: must be positive, got %s", c.PollInterval))
	} else if c.TxTimeout > 0 && c.PollInterval > c.TxTimeout {
		errs = append(errs, fmt.Errorf("poll_interval %s exceeds tx_timeout %s", c.PollInterval, c.TxTimeout))
	}
	if _, err := solana.ParseCommitment(c.Commitment); err != nil {
		errs = append(errs, fmt.Errorf("commitment: %w", err))
	}

	return errors.Join(errs...)
}

// ProgramConfig parses the sale accounts.
func (c *Config) ProgramConfig() (candymachine.ProgramConfig, error) {
	var pc candymachine.ProgramConfig
	var err error

	if pc.CandyMachineID, err = solana.ParsePublicKey(c.CandyMachineID); err != nil {
		return pc, fmt.Errorf("candy_machine_id: %w", err)
	}
	if pc.Config, err = solana.ParsePublicKey(c.ConfigAccount); err != nil {
		return pc, fmt.Errorf("config_account: %w", err)
	}
	if pc.Treasury, err = solana.ParsePublicKey(c.Treasury); err != nil {
		return pc, fmt.Errorf("treasury: %w", err)
	}
	return pc, nil
}

// CommitmentLevel returns the parsed commitment.
func (c *Config) CommitmentLevel() solana.Commitment {
	level, err := solana.ParseCommitment(c.Commitment)
	if err != nil {
		return solana.CommitmentConfirmed
	}
	return level
}

// StartTime parses start_date as RFC 3339 or unix seconds. The zero time
// means unset.
func (c *Config) StartTime() (time.Time, error) {
	s := strings.TrimSpace(c.StartDate)
	if s == "" {
		return time.Time{}, nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("want RFC 3339 or unix seconds: %w", err)
	}
	return t, nil
}

// DeriveWSEndpoint maps an RPC endpoint onto its WebSocket counterpart.
func DeriveWSEndpoint(rpc string) string {
	switch {
	case strings.HasPrefix(rpc, "https://"):
		return "wss://" + strings.TrimPrefix(rpc, "https://")
	case strings.HasPrefix(rpc, "http://"):
		return "ws://" + strings.TrimPrefix(rpc, "http://")
	}
	return ""
}

func validateURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%q: want a %s URL", raw, strings.Join(schemes, "/"))
}
