// Package config loads reqcheck settings from a YAML file, REQCHECK_*
// environment variables and command-line flags.
package config

import (
	"errors"
	"os"
	"strings"

	"github.com/ethanolivertroy/reqcheck/internal/models"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.trai.ch/zerr"
)

// configName is the config file name without extension.
const configName = ".reqcheck"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for reqcheck settings.
const envPrefix = "REQCHECK"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// flagKeys maps command-line flag names onto config keys.
var flagKeys = map[string]string{
	"format":         "format",
	"output":         "output",
	"no-fail":        "no_fail",
	"index-url":      "index.url",
	"index-file":     "index.file",
	"osv-url":        "osv.url",
	"no-enrich":      "enrich.disabled",
	"kev-url":        "enrich.kev_url",
	"epss-url":       "enrich.epss_url",
	"no-cache":       "cache.disabled",
	"cache-dir":      "cache.dir",
	"timeout":        "http.timeout",
	"retries":        "http.retries",
	"max-depth":      "resolve.max_depth",
	"concurrency":    "resolve.concurrency",
	"python-version": "environment.python_version",
	"platform":       "environment.sys_platform",
	"require-pins":   "lint.require_pins",
	"allow-unpinned": "lint.allow_unpinned",
	"disable":        "lint.disable",
	"log-level":      "log.level",
	"log-format":     "log.format",
}

// Load builds the configuration. If configPath is non-empty it must exist;
// otherwise .reqcheck.yaml is searched in the working directory and $HOME
// and a missing file is not an error. Flags present in flags override the
// file and environment when they were set explicitly.
func Load(configPath string, flags *pflag.FlagSet) (*models.Config, error) {
	v := viper.New()

	applyDefaults(v)

	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, zerr.With(zerr.Wrap(err, "read config"), "path", configPath)
		}
	}

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	cfg := models.DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, zerr.Wrap(err, "unmarshal config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, zerr.Wrap(err, "validate config")
	}

	return cfg, nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return zerr.With(zerr.Wrap(err, "bind flag"), "flag", name)
		}
	}
	return nil
}

func applyDefaults(v *viper.Viper) {
	d := models.DefaultConfig()

	v.SetDefault("format", d.OutputFormat)
	v.SetDefault("output", d.OutputFile)
	v.SetDefault("no_fail", d.NoFail)

	v.SetDefault("index.url", d.Index.URL)
	v.SetDefault("index.file", d.Index.File)
	v.SetDefault("osv.url", d.OSV.URL)
	v.SetDefault("enrich.disabled", d.Enrich.Disabled)
	v.SetDefault("enrich.kev_url", d.Enrich.KEVURL)
	v.SetDefault("enrich.epss_url", d.Enrich.EPSSURL)

	v.SetDefault("cache.disabled", d.Cache.Disabled)
	v.SetDefault("cache.dir", d.Cache.Dir)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.max_size", d.Cache.MaxSize)

	v.SetDefault("http.timeout", d.HTTP.Timeout)
	v.SetDefault("http.retries", d.HTTP.Retries)

	v.SetDefault("resolve.max_depth", d.Resolve.MaxDepth)
	v.SetDefault("resolve.concurrency", d.Resolve.Concurrency)

	v.SetDefault("environment.python_version", d.Environment.PythonVersion)
	v.SetDefault("environment.sys_platform", d.Environment.SysPlatform)

	v.SetDefault("lint.require_pins", d.Lint.RequirePins)
	v.SetDefault("lint.allow_unpinned", d.Lint.AllowUnpinned)
	v.SetDefault("lint.disable", []string{})

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}
