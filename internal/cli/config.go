package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

const (
	defaultRequestTimeout = 10 * time.Second
	defaultRetryInterval  = 30 * time.Second
	defaultPollInterval   = 5 * time.Second
)

// Config is the resolved configuration. Keys match flag names; a value is
// taken from the flag if set, else from OFFSYNC_<KEY> (dashes become
// underscores), else from the config file, else the flag default.
type Config struct {
	DB             string        `mapstructure:"db"`
	Backend        string        `mapstructure:"backend"`
	Endpoint       string        `mapstructure:"endpoint"`
	Catalog        string        `mapstructure:"catalog"`
	RequestTimeout time.Duration `mapstructure:"request-timeout"`
	LogFile        string        `mapstructure:"log-file"`
	Verbose        bool          `mapstructure:"verbose"`
	Format         string        `mapstructure:"format"`

	// run
	MarkerFile    string        `mapstructure:"marker-file"`
	DashboardPort int           `mapstructure:"dashboard-port"`
	RetryInterval time.Duration `mapstructure:"retry-interval"`
	DefaultTTL    time.Duration `mapstructure:"default-ttl"`
	PollInterval  time.Duration `mapstructure:"poll-interval"`

	// serve
	Addr string `mapstructure:"addr"`
}

// bind registers flags as configuration keys of the same name.
func (o *RootOptions) bind(flags *pflag.FlagSet, names ...string) {
	for _, name := range names {
		if err := o.v.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %q: %v", name, err))
		}
	}
}

// load resolves Config from flags, environment and the config file.
func (o *RootOptions) load() error {
	o.v.SetEnvPrefix(EnvPrefix)
	o.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	o.v.AutomaticEnv()

	if path := o.v.GetString("config"); path != "" {
		o.v.SetConfigFile(path)
		o.v.SetConfigType("yaml")
		if err := o.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := o.v.Unmarshal(&o.Config); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	o.Verbose = o.Config.Verbose
	o.Format = o.Config.Format
	return nil
}
