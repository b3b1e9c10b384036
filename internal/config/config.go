package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/thatsimonsguy/signal-controller/internal/model"
)

// Duration accepts "1500ms"-style strings in both JSON and YAML config files.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"2s\": %w", err)
	}
	return d.set(s)
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.set(s)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) set(s string) error {
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

type WiFi struct {
	Interface      string   `json:"interface" yaml:"interface"`
	SSID           string   `json:"ssid" yaml:"ssid"`
	Password       string   `json:"password" yaml:"password"`
	AttemptTimeout Duration `json:"attempt_timeout" yaml:"attempt_timeout"`
	BackoffInitial Duration `json:"backoff_initial" yaml:"backoff_initial"`
	BackoffMax     Duration `json:"backoff_max" yaml:"backoff_max"`
	PollInterval   Duration `json:"poll_interval" yaml:"poll_interval"`
}

type Pin struct {
	Pin        *int `json:"pin" yaml:"pin"`
	ActiveHigh bool `json:"active_high" yaml:"active_high"`
}

type GPIO struct {
	GreenIndicator Pin `json:"green_indicator" yaml:"green_indicator"`
	RedIndicator   Pin `json:"red_indicator" yaml:"red_indicator"`
	Buzzer         Pin `json:"buzzer" yaml:"buzzer"`
}

type MQTT struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	Broker      string `json:"broker" yaml:"broker"`
	ClientID    string `json:"client_id" yaml:"client_id"`
	Username    string `json:"username" yaml:"username"`
	Password    string `json:"password" yaml:"password"`
	TopicPrefix string `json:"topic_prefix" yaml:"topic_prefix"`
}

// Schedule fires a command on a cron spec, e.g. "0 7 * * *".
type Schedule struct {
	Spec   string       `json:"spec" yaml:"spec"`
	Target model.Target `json:"target" yaml:"target"`
	Action model.Action `json:"action" yaml:"action"`
}

func (s Schedule) Command() model.Command {
	return model.Command{Target: s.Target, Action: s.Action}
}

type Config struct {
	ConfigFile string        `json:"-" yaml:"-"`
	LogLevel   zerolog.Level `json:"-" yaml:"-"`
	SafeMode   bool          `json:"safe_mode" yaml:"safe_mode"`

	WiFi WiFi `json:"wifi" yaml:"wifi"`
	GPIO GPIO `json:"gpio" yaml:"gpio"`

	HTTPPort     int      `json:"http_port" yaml:"http_port"`
	TickInterval Duration `json:"tick_interval" yaml:"tick_interval"`
	DrainLimit   int      `json:"drain_limit" yaml:"drain_limit"`

	DBPath  string `json:"db_path" yaml:"db_path"`
	LogFile string `json:"log_file" yaml:"log_file"`

	// JournalRetention bounds how long journal rows are kept. Negative disables pruning.
	JournalRetention Duration `json:"journal_retention" yaml:"journal_retention"`

	DDAgentAddr   string   `json:"dd_agent_addr" yaml:"dd_agent_addr"`
	DDNamespace   string   `json:"dd_namespace" yaml:"dd_namespace"`
	DDTags        []string `json:"dd_tags" yaml:"dd_tags"`
	EnableDatadog bool     `json:"enable_datadog" yaml:"enable_datadog"`

	NtfyTopic      string   `json:"ntfy_topic" yaml:"ntfy_topic"`
	NotifyInterval Duration `json:"notify_interval" yaml:"notify_interval"`

	MQTT      MQTT       `json:"mqtt" yaml:"mqtt"`
	Schedules []Schedule `json:"schedules" yaml:"schedules"`

	BootScriptFilePath string `json:"boot_script_path" yaml:"boot_script_path"`
	OSServicePath      string `json:"os_service_path" yaml:"os_service_path"`
	MainServicePath    string `json:"main_service_path" yaml:"main_service_path"`
}

func Load() Config {
	var cfg Config
	var logLevel string
	var safeMode bool

	flag.StringVar(&cfg.ConfigFile, "config-file", "config.json", "Path to controller config file (.json, .yaml or .yml)")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.BoolVar(&safeMode, "safe-mode", false, "Log GPIO writes instead of performing them")
	flag.Parse()

	if err := LoadFile(cfg.ConfigFile, &cfg); err != nil {
		panic(err.Error())
	}

	cfg.LogLevel = parseLogLevel(logLevel)
	cfg.SafeMode = cfg.SafeMode || safeMode
	cfg.ApplyDefaults()
	cfg.validate()
	return cfg
}

// LoadFile decodes path into cfg, choosing YAML or JSON by extension.
func LoadFile(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to load config file: %w", err)
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.NewDecoder(file).Decode(cfg)
	default:
		err = json.NewDecoder(file).Decode(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (cfg *Config) ApplyDefaults() {
	if cfg.WiFi.Interface == "" {
		cfg.WiFi.Interface = "wlan0"
	}
	defaultDuration(&cfg.WiFi.AttemptTimeout, 15*time.Second)
	defaultDuration(&cfg.WiFi.BackoffInitial, time.Second)
	defaultDuration(&cfg.WiFi.BackoffMax, 30*time.Second)
	defaultDuration(&cfg.WiFi.PollInterval, 2*time.Second)
	defaultDuration(&cfg.TickInterval, 50*time.Millisecond)
	defaultDuration(&cfg.NotifyInterval, time.Minute)
	if cfg.JournalRetention.Duration == 0 {
		cfg.JournalRetention.Duration = 30 * 24 * time.Hour
	}

	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = 80
	}
	if cfg.DrainLimit <= 0 {
		cfg.DrainLimit = 4
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "data/signal.db"
	}
	if cfg.LogFile == "" {
		cfg.LogFile = "/var/log/signal-controller.log"
	}
	if cfg.DDNamespace == "" {
		cfg.DDNamespace = "signal."
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "signal-controller"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "signal"
	}
	if cfg.BootScriptFilePath == "" {
		cfg.BootScriptFilePath = "/usr/local/bin/signal-gpio-init.sh"
	}
	if cfg.OSServicePath == "" {
		cfg.OSServicePath = "/etc/systemd/system/signal-gpio-init.service"
	}
	if cfg.MainServicePath == "" {
		cfg.MainServicePath = "/etc/systemd/system/signal-controller.service"
	}
}

func defaultDuration(d *Duration, fallback time.Duration) {
	if d.Duration <= 0 {
		d.Duration = fallback
	}
}

func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Pins returns the configured outputs keyed by their config name.
func (cfg *Config) Pins() map[string]model.GPIOPin {
	pins := make(map[string]model.GPIOPin)
	for name, p := range cfg.pinFields() {
		if p.Pin != nil {
			pins[name] = model.GPIOPin{Number: *p.Pin, ActiveHigh: p.ActiveHigh}
		}
	}
	return pins
}

func (cfg *Config) Credentials() model.Credentials {
	return model.Credentials{SSID: cfg.WiFi.SSID, Password: cfg.WiFi.Password}
}

func (cfg *Config) ListenAddr() string {
	return fmt.Sprintf("0.0.0.0:%d", cfg.HTTPPort)
}

func (cfg *Config) pinFields() map[string]Pin {
	return map[string]Pin{
		"green_indicator": cfg.GPIO.GreenIndicator,
		"red_indicator":   cfg.GPIO.RedIndicator,
		"buzzer":          cfg.GPIO.Buzzer,
	}
}

func (cfg *Config) validate() {
	var (
		missingFields []string
		usedPins      = map[int]string{}
		conflicts     []string
		problems      []string
	)

	for _, name := range []string{"green_indicator", "red_indicator", "buzzer"} {
		p := cfg.pinFields()[name]
		if p.Pin == nil {
			missingFields = append(missingFields, "gpio."+name)
			continue
		}
		if other, exists := usedPins[*p.Pin]; exists {
			conflicts = append(conflicts, fmt.Sprintf("gpio.%s and gpio.%s both use pin %d", name, other, *p.Pin))
		} else {
			usedPins[*p.Pin] = name
		}
	}

	if cfg.WiFi.SSID == "" {
		missingFields = append(missingFields, "wifi.ssid")
	}
	if cfg.WiFi.BackoffInitial.Duration > cfg.WiFi.BackoffMax.Duration {
		problems = append(problems, "wifi.backoff_initial exceeds wifi.backoff_max")
	}
	if cfg.MQTT.Enabled && cfg.MQTT.Broker == "" {
		missingFields = append(missingFields, "mqtt.broker")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for i, s := range cfg.Schedules {
		if _, err := parser.Parse(s.Spec); err != nil {
			problems = append(problems, fmt.Sprintf("schedules[%d]: invalid spec %q: %v", i, s.Spec, err))
		}
		if !s.Command().Valid() {
			problems = append(problems, fmt.Sprintf("schedules[%d]: invalid command %s %s", i, s.Target, s.Action))
		}
	}

	if len(missingFields) > 0 {
		panic("Missing required config fields: " + strings.Join(missingFields, ", "))
	}
	if len(conflicts) > 0 {
		panic("Conflicting GPIO pins: " + strings.Join(conflicts, ", "))
	}
	if len(problems) > 0 {
		panic("Invalid config: " + strings.Join(problems, "; "))
	}
}
