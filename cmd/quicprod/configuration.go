// SPDX-FileCopyrightText: 2026 The quicpro-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"strings"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"

	"github.com/quicpro/quicpro-go/pkg/config"
)

// tomlConfig describes the TOML-configuration.
type tomlConfig struct {
	Core      coreConf         `toml:"core"`
	Logging   logConf          `toml:"logging"`
	Transport config.Transport `toml:"transport"`
	Cluster   config.Cluster   `toml:"cluster"`
	Pipeline  config.Pipeline  `toml:"pipeline"`
	Admin     config.Admin     `toml:"admin"`
}

// coreConf describes the Core-configuration block.
type coreConf struct {
	Listen      string `toml:"listen"`
	Profiling   bool   `toml:"profiling"`
	WatchConfig bool   `toml:"watch-config"`
}

// logConf describes the Logging-configuration block.
type logConf struct {
	Level        string `toml:"level"`
	ReportCaller bool   `toml:"report-caller"`
	Format       string `toml:"format"`
}

// configureLogging sets up logrus from the Logging block.
func configureLogging(conf logConf) error {
	if conf.Level != "" {
		level, err := log.ParseLevel(conf.Level)
		if err != nil {
			return err
		}
		log.SetLevel(level)
	}

	log.SetReportCaller(conf.ReportCaller)

	switch strings.ToLower(conf.Format) {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		log.WithField("format", conf.Format).Warn("Unknown logging format, keeping text")
	}

	return nil
}

// parseConfig loads the daemon configuration, configures logging and merges
// the file's values as the system tier over the compile-time defaults.
func parseConfig(path string) (*config.Config, coreConf, error) {
	var conf tomlConfig
	if _, err := toml.DecodeFile(path, &conf); err != nil {
		return nil, coreConf{}, err
	}

	if err := configureLogging(conf.Logging); err != nil {
		return nil, coreConf{}, err
	}

	cfg := config.Default()
	patch := &config.Config{
		Transport: conf.Transport,
		Cluster:   conf.Cluster,
		Pipeline:  conf.Pipeline,
		Admin:     conf.Admin,
	}
	if err := cfg.Merge(config.TierSystem, patch); err != nil {
		return nil, coreConf{}, err
	}

	if conf.Core.Listen == "" {
		conf.Core.Listen = ":4433"
	}

	return cfg, conf.Core, nil
}
