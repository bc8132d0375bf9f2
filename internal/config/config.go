// Package config loads the dispatch engine's tunables the way the teacher's
// backends load their Options: a plain struct tagged with `config:"name"`,
// populated by reflection from a key/value source. Here the source is the
// process environment (one AFD_ prefixed variable per field) rather than an
// interactive config file, since the dispatch engine is a long-running
// daemon configured at launch, not a per-remote backend chosen at runtime.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix is prepended to every field's config tag to form its
// environment variable name, e.g. `config:"max_connections"` reads
// AFD_MAX_CONNECTIONS.
const EnvPrefix = "AFD_"

// Options holds the dispatch engine's daemon-wide tunables (spec.md §4.2,
// §4.9, §5, §6).
type Options struct {
	WorkDir          string        `config:"work_dir"`
	RescanPeriod     time.Duration `config:"rescan_period"`
	FDTimeout        time.Duration `config:"fd_timeout"`
	MaxConnections   int           `config:"max_connections"`
	RetryThreshold   int           `config:"retry_threshold"`
	TransferTimeout  time.Duration `config:"transfer_timeout"`
	KeepAliveTimeout time.Duration `config:"keep_alive_timeout"`
	ShutdownGrace    time.Duration `config:"shutdown_grace"`
	LogGenerations   int           `config:"log_generations"`
	MaxErrors        int           `config:"max_errors"`
	DefaultHostLimit int64         `config:"default_host_limit"`
	DupCheckWindow   time.Duration `config:"dup_check_window"`
}

// Defaults returns the dispatch engine's built-in defaults, used as the
// starting point before Load overlays anything set in the environment.
func Defaults() Options {
	return Options{
		WorkDir:          "/var/spool/afd",
		RescanPeriod:     10 * time.Second,
		FDTimeout:        10 * time.Minute,
		MaxConnections:   10,
		RetryThreshold:   3,
		TransferTimeout:  2 * time.Minute,
		KeepAliveTimeout: 15 * time.Second,
		ShutdownGrace:    15 * time.Second,
		LogGenerations:   7,
		MaxErrors:        10,
		DefaultHostLimit: -1,
		DupCheckWindow:   5 * time.Minute,
	}
}

// Load starts from Defaults and overlays any AFD_* environment variables
// present, returning the populated Options.
func Load() (Options, error) {
	opt := Defaults()
	if err := loadEnv(&opt); err != nil {
		return Options{}, err
	}
	return opt, nil
}

func loadEnv(opt *Options) error {
	v := reflect.ValueOf(opt).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("config")
		if tag == "" {
			continue
		}
		envName := EnvPrefix + strings.ToUpper(tag)
		raw, ok := os.LookupEnv(envName)
		if !ok {
			continue
		}
		if err := setField(v.Field(i), raw); err != nil {
			return fmt.Errorf("config: %s: %w", envName, err)
		}
	}
	return nil
}

func setField(fv reflect.Value, raw string) error {
	switch fv.Interface().(type) {
	case time.Duration:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		fv.Set(reflect.ValueOf(d))
		return nil
	}
	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		fv.SetInt(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		fv.SetBool(b)
	default:
		return fmt.Errorf("unsupported field kind %s", fv.Kind())
	}
	return nil
}
