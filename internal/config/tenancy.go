package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// TenancyConfig holds defaults applied to newly created organizations and
// the invitation lifecycle.
type TenancyConfig struct {
	AllowInvitations  bool `mapstructure:"allowInvitations"`
	MaxMembers        int  `mapstructure:"maxMembers"`
	InvitationTTLDays int  `mapstructure:"invitationTTLDays"`
}

func DefaultTenancyConfig() TenancyConfig {
	return TenancyConfig{
		AllowInvitations:  true,
		MaxMembers:        100,
		InvitationTTLDays: 7,
	}
}

// TenancyConfigHolder serves the current tenancy config and hot-reloads it
// when the backing file changes.
type TenancyConfigHolder struct {
	current atomic.Value // holds TenancyConfig
}

func NewTenancyConfigHolder() (*TenancyConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("tenancy")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/keystone/config")
	v.AddConfigPath("/etc/keystone")
	v.AddConfigPath(".")

	v.SetEnvPrefix("KEYSTONE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
		defaults := DefaultTenancyConfig()
		v.SetDefault("tenancy.allowInvitations", defaults.AllowInvitations)
		v.SetDefault("tenancy.maxMembers", defaults.MaxMembers)
		v.SetDefault("tenancy.invitationTTLDays", defaults.InvitationTTLDays)
	}

	var cfg TenancyConfig
	if err := v.UnmarshalKey("tenancy", &cfg); err != nil {
		return nil, err
	}
	if err := validateTenancyConfig(cfg); err != nil {
		return nil, err
	}

	holder := &TenancyConfigHolder{}
	holder.current.Store(cfg)

	if fileFound {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated TenancyConfig
			if err := v.UnmarshalKey("tenancy", &updated); err != nil {
				log.Printf("[tenancy-config] reload failed: %v", err)
				return
			}
			if err := validateTenancyConfig(updated); err != nil {
				log.Printf("[tenancy-config] invalid config ignored: %v", err)
				return
			}
			holder.current.Store(updated)
			log.Printf("[tenancy-config] reloaded from %s", e.Name)
		})
	}

	return holder, nil
}

// NewStaticTenancyConfigHolder returns a holder with a fixed config, for tests.
func NewStaticTenancyConfigHolder(cfg TenancyConfig) *TenancyConfigHolder {
	holder := &TenancyConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *TenancyConfigHolder) Get() TenancyConfig {
	return h.current.Load().(TenancyConfig)
}

func validateTenancyConfig(cfg TenancyConfig) error {
	if cfg.MaxMembers < 1 {
		return errors.New("tenancy.maxMembers must be at least 1")
	}
	if cfg.InvitationTTLDays < 1 {
		return errors.New("tenancy.invitationTTLDays must be at least 1")
	}
	return nil
}
