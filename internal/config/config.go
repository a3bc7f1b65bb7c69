// Package config resolves runtime settings and the per-client credential
// file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mfittko/vlad/internal/validation"
	"github.com/spf13/viper"
)

// Setting keys. They double as flag names and, upper-cased with dashes
// turned into underscores, as VLAD_ environment variables.
const (
	KeyConfig             = "config"
	KeyTmpDir             = "tmp-dir"
	KeyDownloadsDir       = "downloads-dir"
	KeyTimeout            = "timeout"
	KeyOutput             = "output"
	KeyLogLevel           = "log-level"
	KeyInsecureSkipVerify = "insecure-skip-verify"
	KeyHTTPTimeout        = "http-timeout"
)

// EnvPrefix namespaces environment overrides.
const EnvPrefix = "VLAD"

// settingsName is the optional settings file, looked up in the working
// directory and the home directory.
const settingsName = ".vlad"

var logLevels = []string{"debug", "info", "warn", "error"}

// Settings are the non-secret runtime knobs.
type Settings struct {
	ConfigPath         string
	TmpDir             string
	DownloadsDir       string
	Timeout            time.Duration
	Output             string
	LogLevel           string
	InsecureSkipVerify bool
	HTTPTimeout        time.Duration
}

// NewViper returns a viper instance with defaults and env binding in place.
// Precedence: flags > VLAD_* env > settings file > defaults. Flags are bound
// by the caller.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyConfig, "")
	v.SetDefault(KeyTmpDir, "tmp")
	v.SetDefault(KeyDownloadsDir, "downloads")
	v.SetDefault(KeyTimeout, 10*time.Minute)
	v.SetDefault(KeyOutput, "text")
	v.SetDefault(KeyLogLevel, "warn")
	v.SetDefault(KeyInsecureSkipVerify, false)
	v.SetDefault(KeyHTTPTimeout, 60*time.Second)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName(settingsName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
	}
	return v
}

// LoadSettings reads the optional settings file and validates the result.
func LoadSettings(v *viper.Viper) (*Settings, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read settings file: %w", err)
		}
	}

	s := &Settings{
		ConfigPath:         v.GetString(KeyConfig),
		TmpDir:             v.GetString(KeyTmpDir),
		DownloadsDir:       v.GetString(KeyDownloadsDir),
		Timeout:            v.GetDuration(KeyTimeout),
		Output:             strings.ToLower(v.GetString(KeyOutput)),
		LogLevel:           strings.ToLower(v.GetString(KeyLogLevel)),
		InsecureSkipVerify: v.GetBool(KeyInsecureSkipVerify),
		HTTPTimeout:        v.GetDuration(KeyHTTPTimeout),
	}
	return s, s.Validate()
}

// Validate checks every setting and reports all problems at once.
func (s *Settings) Validate() error {
	var errs validation.Errors
	errs.Add(validation.OneOf(KeyOutput, s.Output, []string{"text", "json"}))
	errs.Add(validation.OneOf(KeyLogLevel, s.LogLevel, logLevels))
	errs.Add(validation.Required(KeyTmpDir, s.TmpDir))
	errs.Add(validation.Required(KeyDownloadsDir, s.DownloadsDir))
	if s.Timeout <= 0 {
		errs.Add(&validation.Error{
			Field:       KeyTimeout,
			Value:       s.Timeout.String(),
			Message:     "timeout must be positive",
			Remediation: "Use a Go duration such as 10m or 90s",
		})
	}
	if s.HTTPTimeout <= 0 {
		errs.Add(&validation.Error{
			Field:       KeyHTTPTimeout,
			Value:       s.HTTPTimeout.String(),
			Message:     "http timeout must be positive",
			Remediation: "Use a Go duration such as 60s",
		})
	}
	return errs.Err()
}
