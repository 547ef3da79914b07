package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DefaultPath is where the devices document is looked up when no path is given.
const DefaultPath = "config/devices.json"

// ErrConfigNotFound means the devices document does not exist. Callers are
// expected to continue with Default().
var ErrConfigNotFound = errors.New("config file not found")

// Timeouts bound lifecycle and command calls, in milliseconds.
type Timeouts struct {
	OpenMs    int `mapstructure:"openMs"`
	ExecuteMs int `mapstructure:"executeMs"`
}

// Features are per-device capability flags.
type Features struct {
	EMV           bool `mapstructure:"emv"`
	Contactless   bool `mapstructure:"contactless"`
	BypassAllowed bool `mapstructure:"bypassAllowed"`
}

// DeviceConfig describes one logical device.
type DeviceConfig struct {
	Type     string   `mapstructure:"type"` // "card_reader", "pin_pad", "xfs"
	Timeouts Timeouts `mapstructure:"timeouts"`
	Features Features `mapstructure:"features"`
}

// LoggingConfig holds the log sink settings.
type LoggingConfig struct {
	MaskPAN     bool   `mapstructure:"maskPan"`
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
	RotateMB    int    `mapstructure:"rotateMB"`
	RotateFiles int    `mapstructure:"rotateFiles"`
}

// Config holds all configuration for the application.
type Config struct {
	AppEnv  string
	Path    string
	Logging LoggingConfig
	// Devices is keyed by lower-cased logical id; use Device for lookups.
	Devices map[string]DeviceConfig
}

// DefaultDevice returns the built-in settings used for missing entries.
func DefaultDevice() DeviceConfig {
	return DeviceConfig{
		Timeouts: Timeouts{OpenMs: 5000, ExecuteMs: 10000},
	}
}

// DefaultLogging returns the built-in log sink settings.
func DefaultLogging() LoggingConfig {
	return LoggingConfig{
		MaskPAN:     true,
		Level:       "info",
		File:        "logs/atmsp.log",
		RotateMB:    5,
		RotateFiles: 3,
	}
}

// Default returns a configuration with no devices and default logging.
func Default() *Config {
	return &Config{
		AppEnv:  "dev",
		Path:    DefaultPath,
		Logging: DefaultLogging(),
		Devices: map[string]DeviceConfig{},
	}
}

// Device returns the entry for logicalID and whether it was configured.
// Missing entries fall back to DefaultDevice.
func (c *Config) Device(logicalID string) (DeviceConfig, bool) {
	dc, ok := c.Devices[strings.ToLower(logicalID)]
	if !ok {
		return DefaultDevice(), false
	}
	return dc, true
}

// Load reads the devices document at path. Environment variables (and a
// .env file, if present) override logging settings. When flags is non-nil,
// a "log-level" flag is honored too.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	// 1. Load .env into the process environment; a missing file is fine.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	v := viper.New()

	// 2. Bind env vars
	bindings := map[string]string{
		"app.env":       "APP_ENV",
		"logging.level": "ATMSP_LOG_LEVEL",
		"logging.file":  "ATMSP_LOG_FILE",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("could not bind %s: %w", key, err)
		}
	}
	if flags != nil {
		if f := flags.Lookup("log-level"); f != nil {
			if err := v.BindPFlag("logging.level", f); err != nil {
				return nil, fmt.Errorf("could not bind log-level flag: %w", err)
			}
		}
	}

	// 3. Set defaults
	def := DefaultLogging()
	v.SetDefault("app.env", "dev")
	v.SetDefault("logging.maskPan", def.MaskPAN)
	v.SetDefault("logging.level", def.Level)
	v.SetDefault("logging.file", def.File)
	v.SetDefault("logging.rotateMB", def.RotateMB)
	v.SetDefault("logging.rotateFiles", def.RotateFiles)

	// 4. Read the document
	if path == "" {
		path = DefaultPath
	}
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("could not read config %s: %w", path, err)
	}

	// Per-leaf reads honor bindings and defaults.
	cfg := &Config{
		AppEnv: v.GetString("app.env"),
		Path:   path,
		Logging: LoggingConfig{
			MaskPAN:     v.GetBool("logging.maskPan"),
			Level:       v.GetString("logging.level"),
			File:        v.GetString("logging.file"),
			RotateMB:    v.GetInt("logging.rotateMB"),
			RotateFiles: v.GetInt("logging.rotateFiles"),
		},
		Devices: map[string]DeviceConfig{},
	}

	// 5. Devices: each entry starts from the defaults so absent fields keep them.
	for id, raw := range v.GetStringMap("devices") {
		dc := DefaultDevice()
		if err := decodeDevice(raw, &dc); err != nil {
			return nil, fmt.Errorf("invalid device %q: %w", id, err)
		}
		cfg.Devices[strings.ToLower(id)] = dc
	}

	return cfg, nil
}

// LoadOrDefault behaves like Load but falls back to Default when the file
// does not exist. found reports whether the document was read.
func LoadOrDefault(path string, flags *pflag.FlagSet) (cfg *Config, found bool, err error) {
	cfg, err = Load(path, flags)
	if errors.Is(err, ErrConfigNotFound) {
		cfg = Default()
		cfg.Path = path
		if lvl, ok := os.LookupEnv("ATMSP_LOG_LEVEL"); ok && lvl != "" {
			cfg.Logging.Level = lvl
		}
		if flags != nil && flags.Changed("log-level") {
			cfg.Logging.Level, _ = flags.GetString("log-level")
		}
		return cfg, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

func decodeDevice(raw any, out *DeviceConfig) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}
