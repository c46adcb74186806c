// Package config loads a zwavehost driver.Options from a YAML file plus
// environment overrides, using viper for the file/env merge and a
// mapstructure decode hook to parse time.Duration fields. The hex-byte
// NetworkKey string is parsed afterwards by driver.ParseNetworkKey.
package config

import ("fmt"
	"os"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"zwavehost/driver")

// File is the on-disk/env shape of driver.Options. Field
// names match the option names it gives them, lowercased for YAML
// and env-var conventions (ZWAVEHOST_RETRY_TIMEOUT, etc.).
type File struct {
	ConfigPath string `mapstructure:"config_path"`
	UserPath string `mapstructure:"user_path"`

	Logging bool `mapstructure:"logging"`
	NotifyTransactions bool `mapstructure:"notify_transactions"`

	PollInterval time.Duration `mapstructure:"poll_interval"`
	IntervalBetweenPolls bool `mapstructure:"interval_between_polls"`

	DriverMaxAttempts int `mapstructure:"driver_max_attempts"`
	RetryTimeout time.Duration `mapstructure:"retry_timeout"`

	SaveConfiguration bool `mapstructure:"save_configuration"`
	NotifyOnDriverUnload bool `mapstructure:"notify_on_driver_unload"`

	EnableSIS bool `mapstructure:"enable_sis"`

	// NetworkKey is the "16 comma-separated hex bytes" form,
	// e.g. "0x01,0x02,...,0x10". Empty disables Security CC.
	NetworkKey string `mapstructure:"network_key"`

	AutoUpdateConfigFile bool `mapstructure:"auto_update_config_file"`
	ReloadAfterUpdate string `mapstructure:"reload_after_update"`
}

// Load reads configPath (if non-empty; otherwise ./zwavehost.yaml) plus
// ZWAVEHOST_*-prefixed environment overrides, falling back to
// driver.DefaultOptions() for any key the file does not set, and returns
// ready-to-use driver.Options. An environment variable overrides only a
// key that the file also sets; when no config file is found, Load returns
// driver.DefaultOptions() unchanged and reads no environment variables.
func Load(configPath string) (driver.Options, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return driver.Options{}, err
	}

	defaults := driver.DefaultOptions()
	if !found {
		return defaults, nil
	}

	// Pre-fill the bool options so a key the file omits keeps its
	// default through merge instead of decoding to false.
	f := File{
		Logging: defaults.Logging,
		NotifyTransactions: defaults.NotifyTransactions,
		IntervalBetweenPolls: defaults.IntervalBetweenPolls,
		SaveConfiguration: defaults.SaveConfiguration,
		NotifyOnDriverUnload: defaults.NotifyOnDriverUnload,
		EnableSIS: defaults.EnableSIS,
		AutoUpdateConfigFile: defaults.AutoUpdateConfigFile,
	}
	if err := v.Unmarshal(&f, viper.DecodeHook(durationDecodeHook())); err != nil {
		return driver.Options{}, fmt.Errorf("config: unmarshal: %w", err)
	}

	return merge(defaults, f)
}

func merge(defaults driver.Options, f File) (driver.Options, error) {
	opts := defaults
	if f.ConfigPath != "" {
		opts.ConfigPath = f.ConfigPath
	}
	if f.UserPath != "" {
		opts.UserPath = f.UserPath
	}
	opts.Logging = f.Logging
	opts.NotifyTransactions = f.NotifyTransactions
	if f.PollInterval != 0 {
		opts.PollInterval = f.PollInterval
	}
	opts.IntervalBetweenPolls = f.IntervalBetweenPolls
	if f.DriverMaxAttempts != 0 {
		opts.DriverMaxAttempts = f.DriverMaxAttempts
	}
	if f.RetryTimeout != 0 {
		opts.RetryTimeout = f.RetryTimeout
	}
	opts.SaveConfiguration = f.SaveConfiguration
	opts.NotifyOnDriverUnload = f.NotifyOnDriverUnload
	opts.EnableSIS = f.EnableSIS
	opts.AutoUpdateConfigFile = f.AutoUpdateConfigFile

	if f.NetworkKey != "" {
		key, err := driver.ParseNetworkKey(f.NetworkKey)
		if err != nil {
			return driver.Options{}, fmt.Errorf("config: network_key: %w", err)
		}
		opts.NetworkKey = key[:]
	}

	if f.ReloadAfterUpdate != "" {
		opts.ReloadAfterUpdate = parseReloadPolicy(f.ReloadAfterUpdate)
	}

	return opts, nil
}

func parseReloadPolicy(s string) driver.ReloadPolicy {
	switch s {
	case "immediate", "IMMEDIATE":
		return driver.ReloadImmediate
	case "awake", "AWAKE":
		return driver.ReloadAwake
	default:
		return driver.ReloadNever
	}
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("ZWAVEHOST")
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(".")
	v.SetConfigName("zwavehost")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("config: read config file: %w", err)
	}
	return true, nil
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch val := data.(type) {
		case string:
			return time.ParseDuration(val)
		case int:
			return time.Duration(val), nil
		case int64:
			return time.Duration(val), nil
		case float64:
			return time.Duration(val), nil
		default:
			return data, nil
		}
	}
}
