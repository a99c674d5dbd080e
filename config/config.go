// Package config loads the yaml file shared by the kcpecho and kcpclient commands.
package config

import (
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/liang-haoran/kcp-over-udp/pipe"
	"github.com/liang-haoran/kcp-over-udp/report"
)

type Admin struct {
	Addr     string `yaml:"addr"` // empty disables the admin port
	CertFile string `yaml:"cert"`
	KeyFile  string `yaml:"key"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

type Config struct {
	Listen string `yaml:"listen"`
	Remote string `yaml:"remote"`
	Conv   uint32 `yaml:"conv"`

	Kcp    pipe.Setting  `yaml:"kcp"`
	Admin  Admin         `yaml:"admin"`
	Report report.Config `yaml:"report"` // empty addr disables the history
	Log    Log           `yaml:"log"`
}

func Default() *Config {
	return &Config{
		Listen: "0.0.0.0:8000",
		Remote: "127.0.0.1:8000",
		Conv:   1,
		Kcp:    pipe.DefaultSetting(),
		Log:    Log{Level: "info", Format: "console"},
	}
}

// Load reads path over the defaults. Keys missing from the file keep their default.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "load config %s", path)
	}
	return Parse(content)
}

func Parse(content []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(content, c); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	if err := c.Kcp.Validate(); err != nil {
		return err
	}
	if (c.Admin.CertFile == "") != (c.Admin.KeyFile == "") {
		return errors.New("config: admin cert and key go together")
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "config: log level")
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		return errors.Errorf("config: unknown log format %q", c.Log.Format)
	}
	return nil
}

// Setup points the global zerolog logger at stderr.
func (l Log) Setup() error {
	return l.setup(os.Stderr)
}

func (l Log) setup(w io.Writer) error {
	level, err := zerolog.ParseLevel(l.Level)
	if err != nil {
		return errors.Wrap(err, "log level")
	}
	zerolog.SetGlobalLevel(level)
	if l.Format == "json" {
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: w, TimeFormat: time.DateTime})
	}
	return nil
}
