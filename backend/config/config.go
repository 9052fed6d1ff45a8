// Package config resolves runtime settings from defaults, an optional config
// file, CLASSCAST_* environment variables and command line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "CLASSCAST"

	DefaultPort           = 8765
	DefaultHost           = "0.0.0.0"
	DefaultLogLevel       = "info"
	DefaultReconnectDelay = 5 * time.Second
	DefaultDialTimeout    = 5 * time.Second
	DefaultSendQueueSize  = 64

	LogFormatAuto    = "auto"
	LogFormatConsole = "console"
	LogFormatJSON    = "json"
)

const (
	keyPort           = "port"
	keyHost           = "host"
	keyAPIAddr        = "api-addr"
	keyLogLevel       = "log-level"
	keyLogFormat      = "log-format"
	keyIdentityFile   = "identity-file"
	keyName           = "name"
	keyReconnectDelay = "reconnect-delay"
	keyDialTimeout    = "dial-timeout"
	keySendQueueSize  = "send-queue-size"
)

var (
	ErrRead    = errors.New("unable to read configuration")
	ErrInvalid = errors.New("invalid configuration")
)

type Config struct {
	Port           int           `mapstructure:"port"`
	Host           string        `mapstructure:"host"`
	APIAddr        string        `mapstructure:"api-addr"`
	LogLevel       string        `mapstructure:"log-level"`
	LogFormat      string        `mapstructure:"log-format"`
	IdentityFile   string        `mapstructure:"identity-file"`
	StudentName    string        `mapstructure:"name"`
	ReconnectDelay time.Duration `mapstructure:"reconnect-delay"`
	DialTimeout    time.Duration `mapstructure:"dial-timeout"`
	SendQueueSize  int           `mapstructure:"send-queue-size"`
}

// RegisterFlags defines every setting as a flag on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.IntP(keyPort, "p", DefaultPort, "hub port")
	fs.String(keyHost, DefaultHost, "hub listen host")
	fs.StringP(keyAPIAddr, "a", "", "status api listen address, disabled when empty")
	fs.StringP(keyLogLevel, "l", DefaultLogLevel, "log level")
	fs.String(keyLogFormat, LogFormatAuto, "log format: auto, console or json")
	fs.String(keyIdentityFile, "", "student identity file (default is under the user config dir)")
	fs.StringP(keyName, "n", "", "student display name")
	fs.Duration(keyReconnectDelay, DefaultReconnectDelay, "delay between student reconnect attempts")
	fs.Duration(keyDialTimeout, DefaultDialTimeout, "hub dial timeout")
	fs.Int(keySendQueueSize, DefaultSendQueueSize, "per connection outbound queue size")
}

// Load builds the configuration. file and fs are both optional.
func Load(file string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetDefault(keyPort, DefaultPort)
	v.SetDefault(keyHost, DefaultHost)
	v.SetDefault(keyAPIAddr, "")
	v.SetDefault(keyLogLevel, DefaultLogLevel)
	v.SetDefault(keyLogFormat, LogFormatAuto)
	v.SetDefault(keyIdentityFile, "")
	v.SetDefault(keyName, "")
	v.SetDefault(keyReconnectDelay, DefaultReconnectDelay)
	v.SetDefault(keyDialTimeout, DefaultDialTimeout)
	v.SetDefault(keySendQueueSize, DefaultSendQueueSize)

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Join(ErrRead, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, errors.Join(ErrRead, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Join(ErrRead, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) Validate() error {
	var errs []error
	if cfg.Port <= 0 || cfg.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d is out of range", cfg.Port))
	}
	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch cfg.LogFormat {
	case LogFormatAuto, LogFormatConsole, LogFormatJSON:
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", cfg.LogFormat))
	}
	if cfg.ReconnectDelay <= 0 {
		errs = append(errs, fmt.Errorf("reconnect delay must be positive, got %s", cfg.ReconnectDelay))
	}
	if cfg.DialTimeout <= 0 {
		errs = append(errs, fmt.Errorf("dial timeout must be positive, got %s", cfg.DialTimeout))
	}
	if cfg.SendQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("send queue size must be positive, got %d", cfg.SendQueueSize))
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalid}, errs...)...)
	}
	return nil
}

// ListenAddr is the websocket listen address of the hub.
func (cfg *Config) ListenAddr() string {
	return net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
}

// Level returns the parsed log level, falling back to info.
func (cfg *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
