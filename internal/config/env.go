package config

import (
	"strconv"
	"time"

	"github.com/vango-dev/sigsync/internal/errors"
)

// EnvPrefix prefixes every override variable.
const EnvPrefix = "SIGSYNC_"

// envOverride applies one variable to the config.
type envOverride struct {
	name  string
	apply func(c *Config, v string) error
}

func stringVar(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func durationVar(field func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}

func boolVar(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func intVar(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

var envOverrides = []envOverride{
	{"SERVER_ADDR", stringVar(func(c *Config) *string { return &c.Server.Addr })},
	{"SERVER_ALLOW_ANY_ORIGIN", boolVar(func(c *Config) *bool { return &c.Server.AllowAnyOrigin })},
	{"SERVER_READ_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.Server.ReadTimeout })},
	{"SERVER_WRITE_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.Server.WriteTimeout })},
	{"SERVER_HEARTBEAT", durationVar(func(c *Config) *time.Duration { return &c.Server.Heartbeat })},
	{"TRANSPORT_KIND", stringVar(func(c *Config) *string { return &c.Transport.Kind })},
	{"TRANSPORT_URL", stringVar(func(c *Config) *string { return &c.Transport.URL })},
	{"REDIS_ADDR", stringVar(func(c *Config) *string { return &c.Transport.Redis.Addr })},
	{"REDIS_PASSWORD", stringVar(func(c *Config) *string { return &c.Transport.Redis.Password })},
	{"REDIS_DB", intVar(func(c *Config) *int { return &c.Transport.Redis.DB })},
	{"REDIS_CHANNEL", stringVar(func(c *Config) *string { return &c.Transport.Redis.Channel })},
	{"LOG_LEVEL", stringVar(func(c *Config) *string { return &c.Log.Level })},
	{"LOG_FORMAT", stringVar(func(c *Config) *string { return &c.Log.Format })},
	{"METRICS_ENABLED", boolVar(func(c *Config) *bool { return &c.Metrics.Enabled })},
	{"METRICS_NAMESPACE", stringVar(func(c *Config) *string { return &c.Metrics.Namespace })},
	{"TRACING_ENABLED", boolVar(func(c *Config) *bool { return &c.Tracing.Enabled })},
	{"SIGNALS_ID_LENGTH", intVar(func(c *Config) *int { return &c.Signals.IDLength })},
}

// ApplyEnv applies SIGSYNC_* overrides found through lookup, normally
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, o := range envOverrides {
		name := EnvPrefix + o.name
		v, ok := lookup(name)
		if !ok || v == "" {
			continue
		}
		if err := o.apply(c, v); err != nil {
			return errors.New("E103").WithDetailf("%s=%q", name, v).Wrap(err)
		}
	}
	return nil
}

// EnvNames lists the recognised override variables.
func EnvNames() []string {
	names := make([]string, len(envOverrides))
	for i, o := range envOverrides {
		names[i] = EnvPrefix + o.name
	}
	return names
}
