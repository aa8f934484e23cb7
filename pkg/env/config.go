package env

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"

	"github.com/robotalks/hubflash/pkg/dfu"
	fx "github.com/robotalks/hubflash/pkg/framework"
	"github.com/robotalks/hubflash/pkg/telemetry"
	"github.com/robotalks/hubflash/pkg/telemetry/mqtt"
	"github.com/robotalks/hubflash/pkg/telemetry/websocket"
	"github.com/robotalks/hubflash/pkg/uart"
)

// Config provides common options to reach a sensor hub.
type Config struct {
	// Device is the serial device of the hub, e.g. /dev/ttyUSB0.
	Device string
	// Baud is the rate of the framed link.
	Baud int
	// DFUBaud is the rate of the lockstep bootloader.
	DFUBaud int
	// SessionTimeout limits a report-driven upgrade.
	SessionTimeout time.Duration
	// MQTTURL is the broker to publish reports to,
	// e.g. mqtt://localhost:1883/hub/
	MQTTURL string
	// WSURL is the websocket server to push reports to.
	WSURL string
	// Host names this machine in report topics.
	Host string
}

// Option keys, shared by flags, environment and config files.
const (
	KeyDevice         = "device"
	KeyBaud           = "baud"
	KeyDFUBaud        = "dfu-baud"
	KeySessionTimeout = "session-timeout"
	KeyMQTTURL        = "mqtt"
	KeyWSURL          = "ws"
	KeyHost           = "host"
)

var (
	defaultConfig = Config{
		Device:         "/dev/ttyUSB0",
		Baud:           uart.DefaultBaud,
		DFUBaud:        uart.DFUBaud,
		SessionTimeout: dfu.DefaultSessionTimeout,
	}

	configFile string
	// fromEnv records options set by environment variables.
	fromEnv = make(map[string]bool)
)

func init() {
	if val := os.Getenv("HUB_DEVICE"); val != "" {
		defaultConfig.Device = val
		fromEnv[KeyDevice] = true
	}
	if val, err := strconv.Atoi(os.Getenv("HUB_BAUD")); err == nil && val > 0 {
		defaultConfig.Baud = val
		fromEnv[KeyBaud] = true
	}
	if val, err := strconv.Atoi(os.Getenv("HUB_DFU_BAUD")); err == nil && val > 0 {
		defaultConfig.DFUBaud = val
		fromEnv[KeyDFUBaud] = true
	}
	if val, err := time.ParseDuration(os.Getenv("HUB_SESSION_TIMEOUT")); err == nil && val > 0 {
		defaultConfig.SessionTimeout = val
		fromEnv[KeySessionTimeout] = true
	}
	if val := os.Getenv("HUB_MQTT_URL"); val != "" {
		defaultConfig.MQTTURL = val
		fromEnv[KeyMQTTURL] = true
	}
	if val := os.Getenv("HUB_WS_URL"); val != "" {
		defaultConfig.WSURL = val
		fromEnv[KeyWSURL] = true
	}
	if val := os.Getenv("HUB_HOST"); val != "" {
		defaultConfig.Host = val
		fromEnv[KeyHost] = true
	}
	configFile = os.Getenv("HUB_CONFIG")
}

// SetupFlags sets up command line flags.
func SetupFlags() {
	flag.StringVar(&configFile, "config", configFile, "Config file (yaml, json or toml).")
	flag.StringVar(&defaultConfig.Device, KeyDevice, defaultConfig.Device, "Serial device of the hub.")
	flag.IntVar(&defaultConfig.Baud, KeyBaud, defaultConfig.Baud, "Baud rate of the framed link.")
	flag.IntVar(&defaultConfig.DFUBaud, KeyDFUBaud, defaultConfig.DFUBaud, "Baud rate of the BNO bootloader.")
	flag.DurationVar(&defaultConfig.SessionTimeout, KeySessionTimeout, defaultConfig.SessionTimeout, "Timeout of FSP200 upgrade.")
	flag.StringVar(&defaultConfig.MQTTURL, KeyMQTTURL, defaultConfig.MQTTURL, "MQTT broker URL to publish reports.")
	flag.StringVar(&defaultConfig.WSURL, KeyWSURL, defaultConfig.WSURL, "Websocket URL to push reports.")
	flag.StringVar(&defaultConfig.Host, KeyHost, defaultConfig.Host, "Host name in report topics, machine ID by default.")
}

// Default gets the default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// Load creates a Config with the config file applied. Options set by
// flags or environment variables take precedence over the file.
func Load() (*Config, error) {
	conf := NewConfig()
	if configFile == "" {
		return conf, nil
	}
	explicit := make(map[string]bool)
	for key := range fromEnv {
		explicit[key] = true
	}
	flag.Visit(func(f *flag.Flag) {
		explicit[f.Name] = true
	})
	err := conf.LoadFile(configFile, func(key string) bool { return explicit[key] })
	return conf, err
}

// LoadFile applies options from a config file, skipping keys for which
// skip returns true.
func (c *Config) LoadFile(path string, skip func(string) bool) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	set := func(key string) bool {
		return v.IsSet(key) && (skip == nil || !skip(key))
	}
	if set(KeyDevice) {
		c.Device = v.GetString(KeyDevice)
	}
	if set(KeyBaud) {
		c.Baud = v.GetInt(KeyBaud)
	}
	if set(KeyDFUBaud) {
		c.DFUBaud = v.GetInt(KeyDFUBaud)
	}
	if set(KeySessionTimeout) {
		c.SessionTimeout = v.GetDuration(KeySessionTimeout)
	}
	if set(KeyMQTTURL) {
		c.MQTTURL = v.GetString(KeyMQTTURL)
	}
	if set(KeyWSURL) {
		c.WSURL = v.GetString(KeyWSURL)
	}
	if set(KeyHost) {
		c.Host = v.GetString(KeyHost)
	}
	return c.Validate()
}

// Validate checks the options.
func (c *Config) Validate() error {
	if c.Device == "" {
		return fmt.Errorf("device required")
	}
	if c.Baud <= 0 || c.DFUBaud <= 0 {
		return fmt.Errorf("invalid baud rate %d/%d", c.Baud, c.DFUBaud)
	}
	if c.SessionTimeout <= 0 {
		return fmt.Errorf("invalid session timeout %v", c.SessionTimeout)
	}
	return nil
}

// FramedHAL creates the HAL of the framed link.
func (c *Config) FramedHAL(bootloader bool) *uart.FramedHAL {
	hal := uart.NewFramedHAL(c.Device, bootloader)
	hal.Baud = c.Baud
	return hal
}

// RawHAL creates the HAL of the lockstep bootloader.
func (c *Config) RawHAL() *uart.RawHAL {
	hal := uart.NewRawHAL(c.Device)
	hal.Baud = c.DFUBaud
	return hal
}

// HostName returns Host or the machine ID.
func (c *Config) HostName() string {
	if c.Host != "" {
		return c.Host
	}
	return MachineID()
}

// Sinks creates the configured report sinks in addition to logging.
// The returned closers must be closed when done.
func (c *Config) Sinks() ([]telemetry.Sink, []io.Closer, error) {
	sinks := []telemetry.Sink{telemetry.LogSink}
	var closers []io.Closer
	if c.MQTTURL != "" {
		q, err := mqtt.NewQueueFromURL(c.MQTTURL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid MQTT URL: %v", err)
		}
		if err = q.Connect(); err != nil {
			return nil, nil, fmt.Errorf("connect %s: %v", c.MQTTURL, err)
		}
		closers = append(closers, q)
		sinks = append(sinks, &mqtt.Publisher{Queue: q, Host: c.HostName()})
	}
	if c.WSURL != "" {
		ws, err := websocket.Dial(c.WSURL)
		if err != nil {
			fx.CloseAll(closers...)
			return nil, nil, fmt.Errorf("connect %s: %v", c.WSURL, err)
		}
		closers = append(closers, ws)
		sinks = append(sinks, ws)
	}
	return sinks, closers, nil
}
