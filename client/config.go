package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

type config struct {
	Server      string        `mapstructure:"server"`
	Timeout     time.Duration `mapstructure:"timeout"`
	SessionFile string        `mapstructure:"session_file"`
	LogLevel    string        `mapstructure:"log_level"`
}

// configDir is ~/.config/villagectl, or the working directory when there is
// no home.
func configDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "villagectl")
	}
	return "."
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("server", "http://localhost:8080")
	v.SetDefault("timeout", "10s")
	v.SetDefault("log_level", "warn")
	v.SetDefault("session_file", "")
	v.SetEnvPrefix("VILLAGE")
	v.AutomaticEnv()
	return v
}

// loadConfig reads the config file into v and decodes the merged result.
// A missing file is not an error; flags and VILLAGE_* variables still apply.
func loadConfig(v *viper.Viper, path string) (config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
	}
	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) && !errors.Is(err, fs.ErrNotExist) {
			return config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg config
	if err := v.Unmarshal(&cfg); err != nil {
		return config{}, fmt.Errorf("decode config: %w", err)
	}
	if cfg.SessionFile == "" {
		cfg.SessionFile = filepath.Join(configDir(), "session.yaml")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return cfg, nil
}
