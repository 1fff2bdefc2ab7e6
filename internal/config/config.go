// Package config loads the proxy's layered configuration: defaults, then
// config file, then environment variables, then command-line flags,
// using spf13/viper bound to spf13/pflag flags.
package config

import (
	"os"
	"os/user"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved configuration surface described in §6.
type Config struct {
	MongoURI    string `mapstructure:"mongo_uri"`
	DBPrefix    string `mapstructure:"db_prefix"`
	BindAddr    string `mapstructure:"bind_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`

	DesignRoot       string        `mapstructure:"design_root"`
	DesignPoll       time.Duration `mapstructure:"design_poll_interval"`
	JSTimeout        time.Duration `mapstructure:"js_timeout"`
	JSMaxSteps       uint64        `mapstructure:"js_max_steps"`
	ViewWorkers      int           `mapstructure:"view_workers"`
	CompressionLevel int           `mapstructure:"compression_level"`
	AllowDBDelete    bool          `mapstructure:"allow_db_delete"`

	VendorName    string `mapstructure:"vendor_name"`
	VendorVersion string `mapstructure:"vendor_version"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("mongo_uri", "mongodb://localhost:27017")
	v.SetDefault("db_prefix", "")
	v.SetDefault("bind_addr", ":5984")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("design_root", "")
	v.SetDefault("design_poll_interval", 30*time.Second)
	v.SetDefault("js_timeout", 100*time.Millisecond)
	v.SetDefault("js_max_steps", uint64(1_000_000))
	v.SetDefault("view_workers", 0)
	v.SetDefault("compression_level", 8)
	v.SetDefault("allow_db_delete", false)
	v.SetDefault("vendor_name", "couchmongo")
	v.SetDefault("vendor_version", "1.0.0")
}

// BindFlags registers the flag set mirrored into viper by Load.
func BindFlags(flags *pflag.FlagSet) {
	flags.String("mongo-uri", "", "MongoDB connection URI")
	flags.String("bind-addr", "", "HTTP bind address")
	flags.String("metrics-addr", "", "metrics endpoint bind address (disabled if empty)")
	flags.String("design-root", "", "filesystem root for views/ and updates/ design sources")
	flags.Duration("design-poll-interval", 0, "fallback poll interval for design source reload")
	flags.Duration("js-timeout", 0, "per-invocation JS wall-clock budget")
	flags.Uint64("js-max-steps", 0, "per-invocation JS bytecode-step budget")
	flags.Int("view-workers", 0, "map-phase worker pool size (0 = NumCPU)")
	flags.Bool("allow-db-delete", false, "allow DELETE /{db}")
}

var flagToKey = map[string]string{
	"mongo-uri":            "mongo_uri",
	"bind-addr":            "bind_addr",
	"metrics-addr":         "metrics_addr",
	"design-root":          "design_root",
	"design-poll-interval": "design_poll_interval",
	"js-timeout":           "js_timeout",
	"js-max-steps":         "js_max_steps",
	"view-workers":         "view_workers",
	"allow-db-delete":      "allow_db_delete",
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for flagName, key := range flagToKey {
		f := flags.Lookup(flagName)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}

// Load builds the layered configuration: defaults, then the named file
// (or the search-path default "couchmongo.toml" under ".", "$HOME/couchmongo/",
// "/etc/couchmongo/"), then COUCHMONGO_-prefixed environment variables, then
// flags bound via BindFlags.
func Load(file string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	defaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("couchmongo")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		if u, err := user.Current(); err == nil && u.HomeDir != "" {
			v.AddConfigPath(u.HomeDir + string(os.PathSeparator) + "couchmongo/")
		}
		v.AddConfigPath("/etc/couchmongo/")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	v.SetEnvPrefix("couchmongo")
	v.AutomaticEnv()

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
