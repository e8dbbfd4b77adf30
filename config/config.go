package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	OracleCoinGecko = "coingecko"
	OracleBinance   = "binance"
	OracleBybit     = "bybit"
	OracleSimulate  = "simulate"

	RefreshModeFast = "fast"
	RefreshModeSlow = "slow"

	// MinPriceRefreshInterval keeps the public oracle under its rate limit.
	MinPriceRefreshInterval = 15 * time.Second

	fastFullRefresh = 30 * time.Second
	slowFullRefresh = 300 * time.Second

	defaultOracleURL     = "https://api.coingecko.com/api/v3/simple/price"
	defaultOracleTimeout = time.Second

	adminHashEnv = "WALLETSYNC_ADMIN_PASSWORD_HASH"
)

type Config struct {
	Email                string
	Oracle               string
	OracleURL            string
	OracleTimeout        time.Duration
	PriceRefreshInterval time.Duration
	RefreshMode          string
	FullRefreshInterval  time.Duration
	ListenAddr           string
	TLSDomains           []string
	DataDir              string
	SessionFile          string
	BlobDir              string
	BlobBaseURL          string
	AdminUser            string
	AdminPasswordHash    string
}

type ConfigTmp struct {
	Email                string   `yaml:"email"`
	Oracle               string   `yaml:"oracle"`
	OracleURL            string   `yaml:"oracle_url"`
	OracleTimeout        string   `yaml:"oracle_timeout"`
	PriceRefreshInterval string   `yaml:"price_refresh_interval"`
	RefreshMode          string   `yaml:"refresh_mode"`
	ListenAddr           string   `yaml:"listen_addr"`
	TLSDomains           []string `yaml:"tls_domains,omitempty"`
	DataDir              string   `yaml:"data_dir"`
	SessionFile          string   `yaml:"session_file"`
	BlobDir              string   `yaml:"blob_dir"`
	BlobBaseURL          string   `yaml:"blob_base_url"`
	AdminUser            string   `yaml:"admin_user"`
	AdminPasswordHash    string   `yaml:"admin_password_hash,omitempty"`
}

// Get reads the configuration from --config or from CLI flags.
func Get() (Config, error) {
	return Parse(os.Args[1:])
}

// Parse is Get over an explicit argument list.
func Parse(args []string) (Config, error) {
	fs := flag.NewFlagSet("walletsync", flag.ContinueOnError)
	path := fs.String("config", "", "path to yaml config")
	cli := ConfigTmp{}
	fs.StringVar(&cli.Email, "email", "", "user email, falls back to the signed-in session")
	fs.StringVar(&cli.Oracle, "oracle", OracleCoinGecko, "price oracle: coingecko, binance, bybit or simulate")
	fs.StringVar(&cli.OracleURL, "oracle-url", defaultOracleURL, "coingecko simple price endpoint")
	fs.StringVar(&cli.OracleTimeout, "oracle-timeout", defaultOracleTimeout.String(), "hard budget for one price request")
	fs.StringVar(&cli.PriceRefreshInterval, "price-refresh-interval", MinPriceRefreshInterval.String(), "live price refresh interval, min 15s")
	fs.StringVar(&cli.RefreshMode, "refresh-mode", RefreshModeFast, "full refresh cadence: fast (30s) or slow (300s)")
	fs.StringVar(&cli.ListenAddr, "listen", ":8000", "http listen address")
	domains := fs.String("tls-domains", "", "comma separated domains for automatic TLS")
	fs.StringVar(&cli.DataDir, "data-dir", "./wal", "directory for record and view logs")
	fs.StringVar(&cli.SessionFile, "session-file", "./session.json", "signed-in identity and cached balance")
	fs.StringVar(&cli.BlobDir, "blob-dir", "./blobs", "profile picture directory")
	fs.StringVar(&cli.BlobBaseURL, "blob-base-url", "/blobs", "public URL prefix for profile pictures")
	fs.StringVar(&cli.AdminUser, "admin-user", "admin", "admin basic auth user")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if *path != "" {
		return getYaml(*path)
	}

	if *domains != "" {
		cli.TLSDomains = strings.Split(*domains, ",")
	}
	return cli.build()
}

func getYaml(path string) (Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var tmp ConfigTmp
	if err := yaml.Unmarshal(f, &tmp); err != nil {
		return Config{}, fmt.Errorf("failed to parse yaml config %s: %w", path, err)
	}
	return tmp.build()
}

func (c ConfigTmp) build() (Config, error) {
	conf := Config{
		Email:             strings.ToLower(strings.TrimSpace(c.Email)),
		Oracle:            strings.ToLower(strings.TrimSpace(c.Oracle)),
		OracleURL:         c.OracleURL,
		RefreshMode:       strings.ToLower(strings.TrimSpace(c.RefreshMode)),
		ListenAddr:        c.ListenAddr,
		DataDir:           c.DataDir,
		SessionFile:       c.SessionFile,
		BlobDir:           c.BlobDir,
		BlobBaseURL:       c.BlobBaseURL,
		AdminUser:         c.AdminUser,
		AdminPasswordHash: c.AdminPasswordHash,
	}

	for _, d := range c.TLSDomains {
		if d = strings.TrimSpace(d); d != "" {
			conf.TLSDomains = append(conf.TLSDomains, d)
		}
	}

	if conf.Oracle == "" {
		conf.Oracle = OracleCoinGecko
	}
	switch conf.Oracle {
	case OracleCoinGecko, OracleBinance, OracleBybit, OracleSimulate:
	default:
		return Config{}, fmt.Errorf("unsupported 'oracle' param: %s", c.Oracle)
	}
	if conf.OracleURL == "" {
		conf.OracleURL = defaultOracleURL
	}

	if c.OracleTimeout == "" {
		conf.OracleTimeout = defaultOracleTimeout
	} else {
		d, err := time.ParseDuration(c.OracleTimeout)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("incorrect 'oracle_timeout' param (must be a positive duration like 1s): %s", c.OracleTimeout)
		}
		conf.OracleTimeout = d
	}

	if c.PriceRefreshInterval == "" {
		conf.PriceRefreshInterval = MinPriceRefreshInterval
	} else {
		d, err := time.ParseDuration(c.PriceRefreshInterval)
		if err != nil {
			return Config{}, fmt.Errorf("incorrect 'price_refresh_interval' param (must be a duration like 15s), error: %w", err)
		}
		if d < MinPriceRefreshInterval {
			d = MinPriceRefreshInterval
		}
		conf.PriceRefreshInterval = d
	}

	switch conf.RefreshMode {
	case "", RefreshModeFast:
		conf.RefreshMode = RefreshModeFast
		conf.FullRefreshInterval = fastFullRefresh
	case RefreshModeSlow:
		conf.FullRefreshInterval = slowFullRefresh
	default:
		return Config{}, fmt.Errorf("incorrect 'refresh_mode' param (fast or slow): %s", c.RefreshMode)
	}

	if conf.ListenAddr == "" {
		conf.ListenAddr = ":8000"
	}
	if conf.DataDir == "" {
		conf.DataDir = "./wal"
	}
	if conf.SessionFile == "" {
		conf.SessionFile = "./session.json"
	}
	if conf.BlobDir == "" {
		conf.BlobDir = "./blobs"
	}
	if conf.BlobBaseURL == "" {
		conf.BlobBaseURL = "/blobs"
	}
	if conf.AdminUser == "" {
		conf.AdminUser = "admin"
	}
	if hash := os.Getenv(adminHashEnv); hash != "" {
		conf.AdminPasswordHash = hash
	}

	return conf, nil
}
