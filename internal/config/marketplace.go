package config

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// MarketplaceConfig holds operator tunables for the order and billing
// pipeline. It is loaded from marketplace.yml and hot-reloaded on change.
type MarketplaceConfig struct {
	EnableStaleResourceNotifications bool          `mapstructure:"enableStaleResourceNotifications"`
	EnableUsageNotifications         bool          `mapstructure:"enableUsageNotifications"`
	StaleOrderItemThreshold          time.Duration `mapstructure:"staleOrderItemThreshold"`
	TerminationSweepEnabled          bool          `mapstructure:"terminationSweepEnabled"`
}

func DefaultMarketplaceConfig() MarketplaceConfig {
	return MarketplaceConfig{
		EnableStaleResourceNotifications: true,
		EnableUsageNotifications:         true,
		StaleOrderItemThreshold:          4 * time.Hour,
		TerminationSweepEnabled:          true,
	}
}

type MarketplaceConfigHolder struct {
	current atomic.Value // holds MarketplaceConfig
}

func NewMarketplaceConfigHolder() (*MarketplaceConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("marketplace")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/agora/config")
	v.AddConfigPath("/etc/agora")
	v.AddConfigPath(".")

	v.SetEnvPrefix("AGORA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	holder := &MarketplaceConfigHolder{}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		holder.current.Store(DefaultMarketplaceConfig())
		return holder, nil
	}

	cfg := DefaultMarketplaceConfig()
	if err := v.UnmarshalKey("marketplace", &cfg); err != nil {
		return nil, err
	}
	holder.current.Store(cfg)

	v.OnConfigChange(func(fsnotify.Event) {
		next := DefaultMarketplaceConfig()
		if err := v.UnmarshalKey("marketplace", &next); err != nil {
			return
		}
		holder.current.Store(next)
	})
	v.WatchConfig()

	return holder, nil
}

func (h *MarketplaceConfigHolder) Get() MarketplaceConfig {
	if v, ok := h.current.Load().(MarketplaceConfig); ok {
		return v
	}
	return DefaultMarketplaceConfig()
}

// Set replaces the current configuration. Intended for tests.
func (h *MarketplaceConfigHolder) Set(cfg MarketplaceConfig) {
	h.current.Store(cfg)
}
