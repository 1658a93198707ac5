// Package config loads and validates the service's JSON configuration file
// (§6, §10.1), modeled on the original's config.rs/config/deser.rs two-layer
// validation: struct-tag decoding via viper, followed by cross-field checks
// a plain struct tag can't express.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/appstronomer/umon/internal/apperr"
)

// Config is the root of the JSON configuration file.
type Config struct {
	Path                ConfigPath            `mapstructure:"path"`
	Dir                 ConfigDir             `mapstructure:"dir"`
	Groups              map[string]ConfigGroup `mapstructure:"groups"`
	DB                  ConfigDB              `mapstructure:"db"`
	SessionDurationSec  uint64                `mapstructure:"session_duration_sec"`
	HeartbeatPeriodSec  uint64                `mapstructure:"heartbeat_period_sec"`
}

type ConfigPath struct {
	Public string `mapstructure:"public"`
	Cred   string `mapstructure:"cred"`
}

type ConfigDir struct {
	Public string `mapstructure:"public"`
}

type ConfigGroup struct {
	Broker string                       `mapstructure:"broker"`
	QOS    int                          `mapstructure:"qos"`
	Topic  string                       `mapstructure:"topic"`
	Units  map[string]ConfigUnit        `mapstructure:"units"`
}

type ConfigUnit struct {
	CountMin int64 `mapstructure:"count_min"`
	CountMax int64 `mapstructure:"count_max"`
}

type ConfigDB struct {
	Path       string `mapstructure:"path"`
	TxCountMax int    `mapstructure:"tx_count_max"`
}

// SessionDuration is the offline grace of a session; 30 minutes when
// session_duration_sec is unset or zero.
func (c Config) SessionDuration() time.Duration {
	if c.SessionDurationSec == 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.SessionDurationSec) * time.Second
}

func (c Config) HeartbeatPeriod() time.Duration {
	return time.Duration(c.HeartbeatPeriodSec) * time.Second
}

// Flags registers a --config_file flag on fs. The serve command does not
// call it; it takes the config path as its second positional argument.
func Flags(fs *pflag.FlagSet) {
	fs.String("config_file", "", "path to the JSON configuration file")
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return nil, apperr.Wrap(apperr.NotFound, fmt.Errorf("config: read %q: %w", path, err))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperr.Wrap(apperr.BadRequest, fmt.Errorf("config: decode: %w", err))
	}
	if err := validate(&cfg); err != nil {
		return nil, apperr.Wrap(apperr.BadRequest, err)
	}
	return &cfg, nil
}

// validate enforces the cross-field constraints the original's custom
// Deserialize impls enforced: path.public/dir.public co-presence, per-unit
// count_min < count_max, qos in [0,2], tx_count_max >= 1.
func validate(cfg *Config) error {
	hasPathPublic := cfg.Path.Public != ""
	hasDirPublic := cfg.Dir.Public != ""
	if hasPathPublic != hasDirPublic {
		return fmt.Errorf("config: path.public and dir.public must be both present or both absent")
	}

	if cfg.DB.TxCountMax < 1 {
		return fmt.Errorf("config: db.tx_count_max must be >= 1")
	}

	for name, g := range cfg.Groups {
		if g.QOS < 0 || g.QOS > 2 {
			return fmt.Errorf("config: group %q: qos must be 0, 1, or 2", name)
		}
		for unitName, u := range g.Units {
			if u.CountMin >= u.CountMax {
				return fmt.Errorf("config: group %q unit %q: count_min must be < count_max", name, unitName)
			}
		}
	}
	return nil
}
