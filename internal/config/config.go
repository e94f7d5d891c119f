// Package config loads agent configuration from defaults, an optional YAML
// file, DOORBELL_* environment variables and command-line flags, in that
// order of precedence (flags win).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sweeney/doorbell-agent/internal/api"
	"github.com/sweeney/doorbell-agent/internal/gpio"
	"github.com/sweeney/doorbell-agent/internal/heartbeat"
	"github.com/sweeney/doorbell-agent/internal/homewizard"
	"github.com/sweeney/doorbell-agent/internal/logic"
	"github.com/sweeney/doorbell-agent/internal/registrar"
	"github.com/sweeney/doorbell-agent/internal/settings"
)

// EnvPrefix is prepended to every environment variable, e.g. DOORBELL_SERVER_BASE_URL.
const EnvPrefix = "DOORBELL"

// DefaultBaseURL is used when no server address is configured.
const DefaultBaseURL = "http://localhost/api/devices"

// Config is the resolved agent configuration.
type Config struct {
	ServerURL     string
	ServerTimeout time.Duration

	SettingsPath string

	HeartbeatInterval    time.Duration
	RegistrationInterval time.Duration
	RingCooldown         time.Duration

	SwitchTimeout time.Duration
	BlinkDuration time.Duration
	BlinkInterval time.Duration

	GPIOEnabled bool
	GPIOChip    string
	GPIOPin     int
	GPIOPoll    time.Duration
	GPIOHold    time.Duration

	MQTTBroker   string
	MQTTClientID string

	HTTPAddr string

	LogLevel  string
	LogFormat string

	UpdateCommand  string
	ConsoleEnabled bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.base_url", DefaultBaseURL)
	v.SetDefault("server.timeout", api.DefaultTimeout)
	v.SetDefault("settings.path", settings.DefaultPath)
	v.SetDefault("heartbeat.interval", heartbeat.DefaultInterval)
	v.SetDefault("registration.retry_interval", registrar.DefaultRetryInterval)
	v.SetDefault("ring.cooldown", logic.DefaultCooldown)
	v.SetDefault("switch.timeout", homewizard.DefaultTimeout)
	v.SetDefault("blink.duration", homewizard.DefaultBlinkDuration)
	v.SetDefault("blink.interval", homewizard.DefaultBlinkInterval)
	v.SetDefault("gpio.enabled", true)
	v.SetDefault("gpio.chip", gpio.DefaultChip)
	v.SetDefault("gpio.pin", gpio.DefaultPin)
	v.SetDefault("gpio.poll", logic.DefaultPoll)
	v.SetDefault("gpio.debounce", logic.DefaultHold)
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("update.command", "")
	v.SetDefault("console.enabled", true)
}

// flag name -> viper key
var flagKeys = map[string]string{
	"server":         "server.base_url",
	"settings":       "settings.path",
	"heartbeat":      "heartbeat.interval",
	"cooldown":       "ring.cooldown",
	"gpio":           "gpio.enabled",
	"gpio-chip":      "gpio.chip",
	"pin":            "gpio.pin",
	"poll":           "gpio.poll",
	"debounce":       "gpio.debounce",
	"broker":         "mqtt.broker",
	"http":           "http.addr",
	"log-level":      "log.level",
	"log-format":     "log.format",
	"update-command": "update.command",
	"console":        "console.enabled",
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("doorbell", pflag.ContinueOnError)
	fs.String("config", "", "YAML config file")
	fs.String("server", DefaultBaseURL, "management server base URL")
	fs.String("settings", settings.DefaultPath, "device settings file")
	fs.Duration("heartbeat", heartbeat.DefaultInterval, "heartbeat interval")
	fs.Duration("cooldown", logic.DefaultCooldown, "minimum time between accepted rings")
	fs.Bool("gpio", true, "watch the GPIO button")
	fs.String("gpio-chip", gpio.DefaultChip, "GPIO character device")
	fs.Int("pin", gpio.DefaultPin, "BCM pin number of the button")
	fs.Duration("poll", logic.DefaultPoll, "GPIO polling interval")
	fs.Duration("debounce", logic.DefaultHold, "ignore samples for this long after a press")
	fs.String("broker", "", "MQTT broker address (empty to disable)")
	fs.String("http", ":8080", "HTTP status address (empty to disable)")
	fs.String("log-level", "info", "log level")
	fs.String("log-format", "text", "log format (text or json)")
	fs.String("update-command", "", "shell command run when the server reports a newer version")
	fs.Bool("console", true, "read ring/exit commands from stdin")
	return fs
}

// Load resolves configuration from args and the environment. getenv-style
// lookups go through viper's AutomaticEnv.
func Load(args []string) (Config, error) {
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := Config{
		ServerURL:            strings.TrimRight(v.GetString("server.base_url"), "/"),
		ServerTimeout:        v.GetDuration("server.timeout"),
		SettingsPath:         v.GetString("settings.path"),
		HeartbeatInterval:    v.GetDuration("heartbeat.interval"),
		RegistrationInterval: v.GetDuration("registration.retry_interval"),
		RingCooldown:         v.GetDuration("ring.cooldown"),
		SwitchTimeout:        v.GetDuration("switch.timeout"),
		BlinkDuration:        v.GetDuration("blink.duration"),
		BlinkInterval:        v.GetDuration("blink.interval"),
		GPIOEnabled:          v.GetBool("gpio.enabled"),
		GPIOChip:             v.GetString("gpio.chip"),
		GPIOPin:              v.GetInt("gpio.pin"),
		GPIOPoll:             v.GetDuration("gpio.poll"),
		GPIOHold:             v.GetDuration("gpio.debounce"),
		MQTTBroker:           v.GetString("mqtt.broker"),
		MQTTClientID:         v.GetString("mqtt.client_id"),
		HTTPAddr:             v.GetString("http.addr"),
		LogLevel:             v.GetString("log.level"),
		LogFormat:            v.GetString("log.format"),
		UpdateCommand:        v.GetString("update.command"),
		ConsoleEnabled:       v.GetBool("console.enabled"),
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations the agent cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.ServerURL == "" {
		errs = append(errs, errors.New("server.base_url is empty"))
	}
	if c.SettingsPath == "" {
		errs = append(errs, errors.New("settings.path is empty"))
	}
	durations := []struct {
		key string
		d   time.Duration
	}{
		{"server.timeout", c.ServerTimeout},
		{"heartbeat.interval", c.HeartbeatInterval},
		{"registration.retry_interval", c.RegistrationInterval},
		{"switch.timeout", c.SwitchTimeout},
		{"blink.duration", c.BlinkDuration},
		{"blink.interval", c.BlinkInterval},
		{"gpio.poll", c.GPIOPoll},
		{"gpio.debounce", c.GPIOHold},
	}
	for _, d := range durations {
		if d.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", d.key, d.d))
		}
	}
	if c.RingCooldown < 0 {
		errs = append(errs, fmt.Errorf("ring.cooldown must not be negative, got %v", c.RingCooldown))
	}
	if c.GPIOPin < 0 {
		errs = append(errs, fmt.Errorf("gpio.pin must not be negative, got %d", c.GPIOPin))
	}
	return errors.Join(errs...)
}
