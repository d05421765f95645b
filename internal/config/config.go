// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads the configuration of the LLRF commands from a
// TOML file called llrf.toml.
package config // import "github.com/go-lpc/llrf/internal/config"

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the configuration of the LLRF host and board processes.
type Config struct {
	Board struct {
		Addr    string        `mapstructure:"addr"`    // address of the board agent
		Flavor  string        `mapstructure:"flavor"`  // loops or diags
		DevMem  string        `mapstructure:"devmem"`  // memory device of the board agent
		Listen  string        `mapstructure:"listen"`  // listen address of the board agent
		SMBus   int           `mapstructure:"smbus"`   // SMBus adapter number, <0 to skip bring-up
		Timeout time.Duration `mapstructure:"timeout"` // board link timeout
	} `mapstructure:"board"`

	FDL struct {
		Dir     string        `mapstructure:"dir"`
		Delay   uint32        `mapstructure:"delay"`
		PollMax time.Duration `mapstructure:"poll-max"`
	} `mapstructure:"fdl"`

	Server struct {
		Addr string `mapstructure:"addr"` // JSON control server
	} `mapstructure:"server"`

	Diag struct {
		Period time.Duration `mapstructure:"period"` // snapshot period
	} `mapstructure:"diag"`

	Redis struct {
		Addr string `mapstructure:"addr"` // empty to disable publication
	} `mapstructure:"redis"`

	DB struct {
		Host string `mapstructure:"host"` // empty to disable configuration replay
		Name string `mapstructure:"name"`
		User string `mapstructure:"user"`
		Pass string `mapstructure:"pass"`
	} `mapstructure:"db"`

	Mail struct {
		Host      string   `mapstructure:"host"` // empty to disable alerts
		Port      int      `mapstructure:"port"`
		User      string   `mapstructure:"user"`
		Pass      string   `mapstructure:"pass"`
		From      string   `mapstructure:"from"`
		To        []string `mapstructure:"to"`
		MaxAlerts int      `mapstructure:"max-alerts"`
	} `mapstructure:"mail"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("board.addr", "192.168.0.142:9842")
	v.SetDefault("board.flavor", "loops")
	v.SetDefault("board.devmem", "/dev/mem")
	v.SetDefault("board.listen", ":9842")
	v.SetDefault("board.smbus", -1)
	v.SetDefault("board.timeout", 5*time.Second)

	v.SetDefault("fdl.dir", "/tmp")
	v.SetDefault("fdl.delay", 0)
	v.SetDefault("fdl.poll-max", 100*time.Millisecond)

	v.SetDefault("server.addr", ":8877")
	v.SetDefault("diag.period", 1*time.Second)

	v.SetDefault("db.name", "llrf")
	v.SetDefault("db.user", "llrf")

	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.max-alerts", 10)
}

// Load reads the configuration file fname.
// If fname is empty, llrf.toml is looked for in /etc/llrf and in the
// current directory, and a missing file yields the defaults.
func Load(fname string) (Config, error) {
	var (
		cfg Config
		v   = viper.New()
	)
	setDefaults(v)

	if fname != "" {
		v.SetConfigFile(fname)
	} else {
		v.SetConfigName("llrf")
		v.AddConfigPath("/etc/llrf")
		v.AddConfigPath(".")
	}

	err := v.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if fname != "" || !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("config: could not read config file: %w", err)
		}
	}

	err = v.Unmarshal(&cfg)
	if err != nil {
		return cfg, fmt.Errorf("config: could not decode config: %w", err)
	}

	return cfg, nil
}
