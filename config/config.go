package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config carries the desk daemon's runtime settings. Durations are seconds,
// USD amounts are 8-decimal fixed point.
type Config struct {
	RPCAddress  string `toml:"RPCAddress"`
	DataDir     string `toml:"DataDir"`
	Environment string `toml:"Environment"`

	MinUsdAmount8   uint64 `toml:"MinUsdAmount8"`
	QuoteExpirySecs int64  `toml:"QuoteExpirySecs"`
	MaxLockupDays   uint32 `toml:"MaxLockupDays"`

	MaxPriceAgeSecs       int64 `toml:"MaxPriceAgeSecs"`
	ManualPriceMaxAgeSecs int64 `toml:"ManualPriceMaxAgeSecs"`
	ManualPricesEnabled   bool  `toml:"ManualPricesEnabled"`

	EmergencyRefundEnabled      bool  `toml:"EmergencyRefundEnabled"`
	EmergencyRefundDeadlineSecs int64 `toml:"EmergencyRefundDeadlineSecs"`
	AdminRecoverySecs           int64 `toml:"AdminRecoverySecs"`

	OpenOfferCap     int   `toml:"OpenOfferCap"`
	CleanupGraceSecs int64 `toml:"CleanupGraceSecs"`

	NativeDecimals uint8 `toml:"NativeDecimals"`
	StableDecimals uint8 `toml:"StableDecimals"`
}

const (
	defaultRPCAddress  = ":8545"
	defaultDataDir     = "./otc-data"
	defaultEnvironment = "local"

	defaultMinUsdAmount8   = 500_000_000 // $5
	defaultQuoteExpirySecs = 900
	defaultMaxLockupDays   = 365

	defaultMaxPriceAgeSecs       = 7200
	defaultManualPriceMaxAgeSecs = 3600

	defaultEmergencyRefundDeadlineSecs = 30 * 86_400
	defaultAdminRecoverySecs           = 180 * 86_400

	defaultOpenOfferCap     = 1000
	defaultCleanupGraceSecs = 1800

	defaultNativeDecimals = 18
	defaultStableDecimals = 6
)

// Load reads the configuration from path, creating a default file when none
// exists. Unset fields are filled with defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.Normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Normalise fills unset fields with their defaults.
func (c *Config) Normalise() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = defaultRPCAddress
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = defaultDataDir
	}
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = defaultEnvironment
	}
	if c.MinUsdAmount8 == 0 {
		c.MinUsdAmount8 = defaultMinUsdAmount8
	}
	if c.QuoteExpirySecs <= 0 {
		c.QuoteExpirySecs = defaultQuoteExpirySecs
	}
	if c.MaxLockupDays == 0 {
		c.MaxLockupDays = defaultMaxLockupDays
	}
	if c.MaxPriceAgeSecs <= 0 {
		c.MaxPriceAgeSecs = defaultMaxPriceAgeSecs
	}
	if c.ManualPriceMaxAgeSecs <= 0 {
		c.ManualPriceMaxAgeSecs = defaultManualPriceMaxAgeSecs
	}
	if c.EmergencyRefundDeadlineSecs <= 0 {
		c.EmergencyRefundDeadlineSecs = defaultEmergencyRefundDeadlineSecs
	}
	if c.AdminRecoverySecs <= 0 {
		c.AdminRecoverySecs = defaultAdminRecoverySecs
	}
	if c.OpenOfferCap <= 0 {
		c.OpenOfferCap = defaultOpenOfferCap
	}
	if c.CleanupGraceSecs <= 0 {
		c.CleanupGraceSecs = defaultCleanupGraceSecs
	}
	if c.NativeDecimals == 0 {
		c.NativeDecimals = defaultNativeDecimals
	}
	if c.StableDecimals == 0 {
		c.StableDecimals = defaultStableDecimals
	}
}

// Validate rejects settings the engine cannot operate with.
func (c *Config) Validate() error {
	if c.ManualPriceMaxAgeSecs > c.MaxPriceAgeSecs {
		return fmt.Errorf("config: ManualPriceMaxAgeSecs must not exceed MaxPriceAgeSecs")
	}
	if c.NativeDecimals > 18 || c.StableDecimals > 18 {
		return fmt.Errorf("config: decimals out of range")
	}
	return nil
}

// createDefault writes and returns the default configuration.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.Normalise()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
