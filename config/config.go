package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tcriess/geonote-chat/globals"
)

const (
	defaultAddr      = "localhost:8000"
	defaultImageHost = "http://localhost:7860"
	defaultScoreHost = "http://localhost:7861"
	defaultTimeout   = 2 * time.Minute
	defaultCacheSize = 256
	defaultSweepSpec = "@every 10m"
)

// Config is the global configuration object which is filled via the configuration file, flags and the
// environment (GEONOTE_*)
type Config struct {
	LogLevel          string            `mapstructure:"log_level"`
	Addr              string            `mapstructure:"addr"`
	ProvidersConfig   ProvidersConfig   `mapstructure:"providers"`
	RoomsConfig       RoomsConfig       `mapstructure:"rooms"`
	RelayConfig       RelayConfig       `mapstructure:"relay"`
	CacheConfig       CacheConfig       `mapstructure:"cache"`
	PersistenceConfig PersistenceConfig `mapstructure:"persistence"`
	OIDCConfigs       []OIDCConfig      `mapstructure:"oidc"`
}

// ProvidersConfig configures the remote image generation service and the scoring service.
type ProvidersConfig struct {
	ImageHost string        `mapstructure:"image_host"` // f.e. "http://localhost:7860"
	ScoreHost string        `mapstructure:"score_host"` // must contain the port
	Timeout   time.Duration `mapstructure:"timeout"`
	Width     int           `mapstructure:"width"`
	Height    int           `mapstructure:"height"`
	Steps     int           `mapstructure:"steps"`
	CfgScale  float64       `mapstructure:"cfg_scale"`
	Seed      int64         `mapstructure:"seed"`
}

// RoomsConfig configures the room registry. With RetainEmptyPrivate, private rooms are kept after their last
// member left and are removed by the sweep job (SweepSpec is a cron spec). StatsSpec optionally logs registry
// statistics.
type RoomsConfig struct {
	Strict             bool   `mapstructure:"strict"`
	RetainEmptyPrivate bool   `mapstructure:"retain_empty_private"`
	SweepSpec          string `mapstructure:"sweep_spec"`
	StatsSpec          string `mapstructure:"stats_spec"`
}

// RelayConfig holds the filter expression every relayed chat text and every prompt addition has to pass.
type RelayConfig struct {
	Filter string `mapstructure:"filter"`
}

// CacheConfig configures the size of the in-memory prompt -> image cache.
type CacheConfig struct {
	Size int `mapstructure:"size"`
}

// PersistenceConfig configures the optional image cache backend: "buntdb" (DSN is the file name), "sqlite" or
// "postgres" (DSN is passed to gorm).
type PersistenceConfig struct {
	Type      string `mapstructure:"type"`
	DSN       string `mapstructure:"dsn"`
	FlockPath string `mapstructure:"flock_path"` // buntdb only, defaults to DSN + ".lock"
}

// An OIDCConfig  object configures an OpenID Connect provider that is used to authenticate users. Users provide
// an ID token and the name of the provider, the authentication is then performed via verification of the token.
type OIDCConfig struct {
	Name        string `mapstructure:"name"`
	ClientId    string `mapstructure:"client_id"`
	ProviderUrl string `mapstructure:"provider_url"` // f.e. "https://accounts.google.com"
}

func GetFlagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	flagSet.String("log-level", "", "log level (trace, debug, info, warn, error)")
	flagSet.String("addr", "", "ws service address (including port)")
	flagSet.String("providers-image-host", "", "image generation service address, f.e. http://localhost:7860")
	flagSet.String("providers-score-host", "", "scoring service address, f.e. http://localhost:7861")
	return flagSet
}

// wordSepNormalizeFunc allows for normalization of the flag names (which use - as a separator)
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	from := "-"
	to := "_"
	name = strings.Replace(name, from, to, -1)
	return pflag.NormalizedName(name)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "INFO")
	v.SetDefault("addr", defaultAddr)
	v.SetDefault("providers.image_host", defaultImageHost)
	v.SetDefault("providers.score_host", defaultScoreHost)
	v.SetDefault("providers.timeout", defaultTimeout)
	v.SetDefault("providers.width", 512)
	v.SetDefault("providers.height", 512)
	v.SetDefault("providers.steps", 1)
	v.SetDefault("providers.cfg_scale", 5)
	v.SetDefault("providers.seed", 0)
	v.SetDefault("rooms.sweep_spec", defaultSweepSpec)
	v.SetDefault("cache.size", defaultCacheSize)
}

// ReadConfiguration reads and parses the configuration located at configPath, which can either point to a single TOML
// file or to a directory, in which case all *.toml files in this directory are concatenated. Flags from flagSet
// (may be nil) override the file. It returns a Config object.
func ReadConfiguration(configPath string, flagSet *pflag.FlagSet) (*Config, error) {
	cfg := Config{}
	v := viper.New()
	setDefaults(v)
	if flagSet != nil {
		flagSet.SetNormalizeFunc(wordSepNormalizeFunc)
		bindFlags(v, flagSet)
	}
	v.SetEnvPrefix("GEONOTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if configPath != "" {
		fi, err := os.Stat(configPath)
		if err != nil {
			return nil, err
		}
		contents := make([]byte, 0)
		files := []string{configPath}
		if fi.IsDir() {
			files, err = filepath.Glob(filepath.Join(configPath, "*.toml"))
			if err != nil {
				return nil, err
			}
		}
		for _, configFile := range files {
			fileContents, err := os.ReadFile(configFile)
			if err != nil {
				return nil, err
			}
			contents = append(contents, fileContents...)
			contents = append(contents, '\n')
		}
		v.SetConfigType("toml")
		err = v.ReadConfig(bytes.NewBuffer(contents))
		if err != nil {
			return nil, err
		}
	}
	err := v.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	globals.AppLogger.Debug("config", "cfg", cfg)
	return &cfg, nil
}

// bindFlags binds the flags which were actually set. Nested keys use "-" in the flag name where the config uses
// ".", f.e. providers-image-host -> providers.image_host.
func bindFlags(v *viper.Viper, flagSet *pflag.FlagSet) {
	flagSet.VisitAll(func(f *pflag.Flag) {
		key := f.Name
		if strings.HasPrefix(key, "providers_") {
			key = "providers." + strings.TrimPrefix(key, "providers_")
		}
		if err := v.BindPFlag(key, f); err != nil {
			globals.AppLogger.Error("could not bind flag (ignored)", "flag", f.Name, "error", err)
		}
	})
}
