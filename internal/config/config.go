// Package config resolves the collector configuration from defaults, an
// optional sectionless key = value file and the environment.
package config

import (
	"fmt"
	"time"

	"gopkg.in/ini.v1"

	"github.com/sarabveer/cable-modem-stats/internal/modem"
	"github.com/sarabveer/cable-modem-stats/internal/sink"
)

const (
	DestinationInfluxDB   = "influxdb"
	DestinationPrometheus = "prometheus"
)

type Config struct {
	EnableDebug   bool   `ini:"enable_debug"`
	Destination   string `ini:"destination"`
	SleepInterval int    `ini:"sleep_interval"`

	ModemIP                   string `ini:"modem_ip"`
	ModemVerifySSL            bool   `ini:"modem_verify_ssl"`
	ModemUsername             string `ini:"modem_username"`
	ModemPassword             string `ini:"modem_password"`
	ModemModel                string `ini:"modem_model"`
	ExitOnAuthError           bool   `ini:"exit_on_auth_error"`
	ExitOnHTMLError           bool   `ini:"exit_on_html_error"`
	ClearAuthTokenOnHTMLError bool   `ini:"clear_auth_token_on_html_error"`
	SleepBeforeExit           bool   `ini:"sleep_before_exit"`
	RequestTimeout            int    `ini:"request_timeout"`

	// SB8200 only
	ModemSSL          bool `ini:"modem_ssl"`
	ModemAuthRequired bool `ini:"modem_auth_required"`
	ModemNewAuth      bool `ini:"modem_new_auth"`

	InfluxURL       string `ini:"influx_url"`
	InfluxBucket    string `ini:"influx_bucket"`
	InfluxOrg       string `ini:"influx_org"`
	InfluxToken     string `ini:"influx_token"`
	InfluxVerifySSL bool   `ini:"influx_verify_ssl"`
}

func Default() Config {
	return Config{
		Destination:   DestinationInfluxDB,
		SleepInterval: 120,

		ModemIP:                   "192.168.100.1",
		ModemUsername:             "admin",
		ModemModel:                "s33",
		ExitOnAuthError:           true,
		ExitOnHTMLError:           true,
		ClearAuthTokenOnHTMLError: true,
		SleepBeforeExit:           true,
		RequestTimeout:            30,

		InfluxURL:       "http://localhost:8086",
		InfluxBucket:    "cable_modem_stats",
		InfluxVerifySSL: true,
	}
}

var loadOptions = ini.LoadOptions{
	// keys are matched case-insensitively, and '#' or ';' inside a value
	// (passwords, tokens) is not a comment
	InsensitiveKeys:     true,
	IgnoreInlineComment: true,
}

// Load resolves the configuration. path may be empty. Every recognized key
// can be overridden by a non-empty environment variable of the same name,
// looked up with lookupEnv (os.LookupEnv outside tests).
func Load(path string, lookupEnv func(string) (string, bool)) (Config, error) {
	f := ini.Empty(loadOptions)
	if path != "" {
		if err := f.Append(path); err != nil {
			return Config{}, fmt.Errorf("error reading config file %s: %v", path, err)
		}
	}

	sec := f.Section(ini.DefaultSection)
	for _, name := range keyNames() {
		if v, ok := lookupEnv(name); ok && v != "" {
			sec.Key(name).SetValue(v)
		}
	}

	c := Default()
	if err := sec.StrictMapTo(&c); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %v", err)
	}

	// "None" in the file or environment means unset
	for _, s := range []*string{&c.ModemPassword, &c.InfluxOrg, &c.InfluxToken} {
		if *s == "None" {
			*s = ""
		}
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// keyNames lists the recognized keys, in declaration order.
func keyNames() []string {
	f := ini.Empty(loadOptions)
	def := Default()
	if err := f.Section(ini.DefaultSection).ReflectFrom(&def); err != nil {
		panic(err)
	}
	return f.Section(ini.DefaultSection).KeyStrings()
}

func (c Config) Validate() error {
	if _, err := modem.ParseModel(c.ModemModel); err != nil {
		return err
	}
	switch c.Destination {
	case DestinationInfluxDB, DestinationPrometheus:
	default:
		return fmt.Errorf("destination %q not supported (supported: %s, %s)", c.Destination, DestinationInfluxDB, DestinationPrometheus)
	}
	if c.SleepInterval <= 0 {
		return fmt.Errorf("sleep_interval must be positive, got %d", c.SleepInterval)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %d", c.RequestTimeout)
	}
	return nil
}

func (c Config) SleepIntervalDuration() time.Duration {
	return time.Duration(c.SleepInterval) * time.Second
}

func (c Config) RequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

func (c Config) Model() modem.Model {
	m, _ := modem.ParseModel(c.ModemModel)
	return m
}

func (c Config) ModemSettings() modem.Settings {
	return modem.Settings{
		IP:           c.ModemIP,
		Username:     c.ModemUsername,
		Password:     c.ModemPassword,
		SSL:          c.ModemSSL,
		VerifySSL:    c.ModemVerifySSL,
		AuthRequired: c.ModemAuthRequired,
		NewAuth:      c.ModemNewAuth,
		Timeout:      c.RequestTimeoutDuration(),
	}
}

func (c Config) InfluxConfig() sink.InfluxConfig {
	return sink.InfluxConfig{
		URL:       c.InfluxURL,
		Token:     c.InfluxToken,
		Org:       c.InfluxOrg,
		Bucket:    c.InfluxBucket,
		VerifySSL: c.InfluxVerifySSL,
		Timeout:   c.RequestTimeoutDuration(),
	}
}
