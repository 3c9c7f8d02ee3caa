package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/lucasew/mise-gettext-builder/pkg/logger"
)

// Config holds all application configuration
type Config struct {
	Logging logger.Config `mapstructure:"logging"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	GPG     GPGConfig     `mapstructure:"gpg"`
	Build   BuildConfig   `mapstructure:"build"`
	Release ReleaseConfig `mapstructure:"release"`
}

// FetchConfig holds mirror download configuration
type FetchConfig struct {
	Mirrors           []string `mapstructure:"mirrors"`
	TimeoutSeconds    int      `mapstructure:"timeout_seconds"`
	Retries           int      `mapstructure:"retries"`
	RetryDelaySeconds int      `mapstructure:"retry_delay_seconds"`
}

// Timeout returns the per-attempt HTTP timeout
func (f FetchConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutSeconds) * time.Second
}

// RetryDelay returns the pause between attempts against the same mirror
func (f FetchConfig) RetryDelay() time.Duration {
	return time.Duration(f.RetryDelaySeconds) * time.Second
}

// GPGConfig holds signature verification configuration
type GPGConfig struct {
	Mode       string   `mapstructure:"mode"`
	KeyIDs     []string `mapstructure:"key_ids"`
	Keyservers []string `mapstructure:"keyservers"`
	Binary     string   `mapstructure:"binary"`
}

// BuildConfig holds build dispatch configuration
type BuildConfig struct {
	Targets        []string `mapstructure:"targets"`
	Concurrency    int      `mapstructure:"concurrency"`
	WorkDir        string   `mapstructure:"work_dir"`
	OutputDir      string   `mapstructure:"output_dir"`
	Command        string   `mapstructure:"command"`
	Image          string   `mapstructure:"image"`
	MinFreeMB      uint64   `mapstructure:"min_free_mb"`
	KeepSandboxes  bool     `mapstructure:"keep_sandboxes"`
	ToolchainsFile string   `mapstructure:"toolchains_file"`
}

// ReleaseConfig holds release hosting configuration
type ReleaseConfig struct {
	Owner             string  `mapstructure:"owner"`
	Repo              string  `mapstructure:"repo"`
	Token             string  `mapstructure:"token"`
	APIURL            string  `mapstructure:"api_url"`
	UploadURL         string  `mapstructure:"upload_url"`
	Draft             bool    `mapstructure:"draft"`
	Overwrite         bool    `mapstructure:"overwrite"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// setDefaults registers the default value for every configuration key
func setDefaults(v *viper.Viper) {
	// Fetch defaults: GNU mirror list in preference order
	v.SetDefault("fetch.mirrors", []string{
		"https://ftp.gnu.org/gnu/gettext/",
		"https://ftpmirror.gnu.org/gettext/",
		"https://mirrors.ocf.berkeley.edu/gnu/gettext/",
		"https://mirror.dogado.de/gnu/gettext/",
		"https://mirror.checkdomain.de/gnu/gettext/",
		"https://ftp.cc.uoc.gr/mirrors/gnu/gettext/",
	})
	v.SetDefault("fetch.timeout_seconds", 30)
	v.SetDefault("fetch.retries", 3)
	v.SetDefault("fetch.retry_delay_seconds", 2)

	// GPG defaults: Bruno Haible's release signing keys
	v.SetDefault("gpg.mode", "strict")
	v.SetDefault("gpg.key_ids", []string{
		"B6301D9E1BBEAC08",
		"F5BE8B267C6A406D",
		"4F494A942E4616C2",
	})
	v.SetDefault("gpg.keyservers", []string{
		"hkps://keys.openpgp.org",
		"hkps://keyserver.ubuntu.com",
		"hkps://pgp.mit.edu",
	})
	v.SetDefault("gpg.binary", "gpg")

	// Build defaults
	v.SetDefault("build.targets", []string{"linux-amd64", "linux-aarch64", "windows-amd64"})
	v.SetDefault("build.concurrency", 2)
	v.SetDefault("build.work_dir", filepath.Join(os.TempDir(), "gettext-builder"))
	v.SetDefault("build.output_dir", "dist")
	v.SetDefault("build.command", "docker")
	v.SetDefault("build.image", "ghcr.io/lucasew/gettext-buildenv:latest")
	v.SetDefault("build.min_free_mb", 2048)

	// Release defaults
	v.SetDefault("release.owner", "lucasew")
	v.SetDefault("release.repo", "mise-gettext-builder")
	v.SetDefault("release.api_url", "https://api.github.com")
	v.SetDefault("release.upload_url", "https://uploads.github.com")
	v.SetDefault("release.requests_per_second", 1)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.max_size", 50)
	v.SetDefault("logging.max_age", 30)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.compress", true)
}

// LoadConfig loads configuration from file and environment
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Configuration file name and path
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.gettext-builder")
	}

	// Read environment variables
	v.AutomaticEnv()
	v.SetEnvPrefix("GETTEXT_BUILDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read configuration file
	err := v.ReadInConfig()
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	// Bind configuration to struct
	var config Config
	err = v.Unmarshal(&config)
	if err != nil {
		return nil, err
	}

	// CI convention fallback for the release token
	if config.Release.Token == "" {
		config.Release.Token = os.Getenv("GITHUB_TOKEN")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks configuration invariants that every command depends on.
// Target names are validated against the toolchain table at plan time,
// not here.
func (c *Config) Validate() error {
	switch c.GPG.Mode {
	case "strict", "warn", "skip":
	default:
		return fmt.Errorf("invalid gpg mode %q: must be strict, warn or skip", c.GPG.Mode)
	}

	if c.Build.Concurrency < 1 {
		return fmt.Errorf("build concurrency must be at least 1, got %d", c.Build.Concurrency)
	}

	if len(c.Fetch.Mirrors) == 0 {
		return fmt.Errorf("at least one mirror is required")
	}

	if len(c.Build.Targets) == 0 {
		return fmt.Errorf("at least one build target is required")
	}

	if c.Fetch.TimeoutSeconds < 1 {
		return fmt.Errorf("fetch timeout must be at least 1 second, got %d", c.Fetch.TimeoutSeconds)
	}

	return nil
}

// InitLogger initializes the global logger from the logging section
func InitLogger(cfg *logger.Config) error {
	return logger.Init(*cfg)
}

// DefaultConfig returns the built-in defaults without reading any file
func DefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		panic(err)
	}
	return &config
}
