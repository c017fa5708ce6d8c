// Package config holds the server configuration: defaults, an optional YAML
// file and validation.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ehrlich-b/go-etherlink/internal/constants"
	"github.com/ehrlich-b/go-etherlink/internal/csr"
	"github.com/ehrlich-b/go-etherlink/internal/errs"
	"github.com/ehrlich-b/go-etherlink/internal/logging"
)

// Number is an unsigned integer that accepts decimal, 0x hex and 0o octal
// notation in YAML and on the command line. It implements pflag.Value.
type Number uint64

// ParseNumber parses s with Go integer literal prefixes.
func ParseNumber(s string) (Number, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", s, err)
	}
	return Number(v), nil
}

func (n *Number) String() string { return strconv.FormatUint(uint64(*n), 10) }

// Set implements pflag.Value.
func (n *Number) Set(s string) error {
	v, err := ParseNumber(s)
	if err != nil {
		return err
	}
	*n = v
	return nil
}

// Type implements pflag.Value.
func (n *Number) Type() string { return "number" }

// UnmarshalYAML implements yaml.Unmarshaler.
func (n *Number) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a number", value.Line)
	}
	v, err := ParseNumber(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*n = v
	return nil
}

// MarshalYAML implements yaml.Marshaler. Values are written as hex ints.
func (n Number) MarshalYAML() (any, error) {
	return &yaml.Node{
		Kind:  yaml.ScalarNode,
		Tag:   "!!int",
		Value: fmt.Sprintf("0x%x", uint64(n)),
	}, nil
}

// Device selects and sizes the IP's register window.
type Device struct {
	UIOPath       string `yaml:"uio-driver-path"`
	StartAddress  Number `yaml:"start-address"`
	H2TT2HMemSize Number `yaml:"h2t-t2h-mem-size"`
	MapSize       Number `yaml:"map-size"` // 0 reads the size from sysfs

	// Simulate replaces the UIO device with the in-process IP model.
	Simulate bool `yaml:"simulate"`
}

// Server configures the listeners.
type Server struct {
	IP       string `yaml:"ip"`
	Port     int    `yaml:"port"`
	MgmtPort int    `yaml:"mgmt-port"` // negative disables the management listener
	Loopback bool   `yaml:"loopback"`
}

// Poll paces the idle poll loops.
type Poll struct {
	Min time.Duration `yaml:"min"`
	Max time.Duration `yaml:"max"`
}

// Log configures logging.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// Config is the complete server configuration.
type Config struct {
	Device Device `yaml:"device"`
	Server Server `yaml:"server"`
	Poll   Poll   `yaml:"poll"`
	Log    Log    `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Device: Device{
			UIOPath:       constants.DefaultUIOPath,
			StartAddress:  constants.DefaultStartAddress,
			H2TT2HMemSize: constants.DefaultH2TT2HMemSize,
		},
		Server: Server{
			IP:       constants.DefaultListenIP,
			Port:     constants.DefaultPort,
			MgmtPort: constants.DefaultMgmtPort,
		},
		Poll: Poll{
			Min: constants.PollBackoffMin,
			Max: constants.PollBackoffMax,
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML file over the defaults. Keys absent from the file keep
// their default values.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	conf := Default()
	if err := yaml.Unmarshal(b, conf); err != nil {
		return nil, errs.Wrap("parse_config", errs.CodeConfig, fmt.Errorf("parsing YAML: %w", err))
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// Validate checks every field.
func (c *Config) Validate() error {
	const op = "validate_config"

	if !c.Device.Simulate && c.Device.UIOPath == "" {
		return errs.New(op, errs.CodeConfig, "uio-driver-path must be set")
	}
	if c.Device.StartAddress > 0xFFFFFFFF {
		return errs.Newf(op, errs.CodeConfig, "start-address 0x%x does not fit 32 bits", uint64(c.Device.StartAddress))
	}
	size := uint64(c.Device.H2TT2HMemSize)
	if size == 0 || size%csr.BuffAlign != 0 || size > 0xFFFF+1 {
		return errs.Newf(op, errs.CodeConfig,
			"h2t-t2h-mem-size %d must be a nonzero multiple of %d up to 64KB", size, csr.BuffAlign)
	}
	if ip := net.ParseIP(c.Server.IP); ip == nil {
		return errs.Newf(op, errs.CodeConfig, "ip %q is not an IP address", c.Server.IP)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errs.Newf(op, errs.CodeConfig, "port %d out of range", c.Server.Port)
	}
	if c.Server.MgmtPort > 65535 {
		return errs.Newf(op, errs.CodeConfig, "mgmt-port %d out of range", c.Server.MgmtPort)
	}
	if c.Poll.Min <= 0 || c.Poll.Max < c.Poll.Min {
		return errs.Newf(op, errs.CodeConfig, "poll interval [%s, %s] is not valid", c.Poll.Min, c.Poll.Max)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return errs.Wrap(op, errs.CodeConfig, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return errs.Newf(op, errs.CodeConfig, "log format %q is not text or json", c.Log.Format)
	}
	return nil
}

// ListenAddr returns the data listener address.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Server.IP, strconv.Itoa(c.Server.Port))
}

// MgmtListenAddr returns the management listener address, or "" when the
// management listener is disabled.
func (c *Config) MgmtListenAddr() string {
	if c.Server.MgmtPort < 0 {
		return ""
	}
	return net.JoinHostPort(c.Server.IP, strconv.Itoa(c.Server.MgmtPort))
}

// Logging returns the logger configuration.
func (c *Config) Logging() *logging.Config {
	lc := logging.DefaultConfig()
	if lvl, err := logging.ParseLevel(c.Log.Level); err == nil {
		lc.Level = lvl
	}
	lc.Format = c.Log.Format
	return lc
}

// String renders the configuration as YAML.
func (c *Config) String() string {
	b, err := yaml.Marshal(c)
	if err != nil {
		return err.Error()
	}
	return string(b)
}
