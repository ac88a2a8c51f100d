// orchestrator/config.go
package orchestrator

import (
	"github.com/vagasapp/cachecore/config"
	"github.com/vagasapp/cachecore/pagecache"
)

// configSnapshot returns the loaded configuration, initializing it with
// defaults when the host never called config.InitConfig.
func configSnapshot() *config.Configuration {
	if cfg := config.GetConfig(); cfg != nil {
		return cfg
	}
	if err := config.InitConfig(); err == nil {
		if cfg := config.GetConfig(); cfg != nil {
			return cfg
		}
	}
	return &config.Configuration{}
}

// PageOptionsFromConfig seeds page-cache options from the viper-backed
// configuration. The caller supplies Fetcher and KeyFn.
func PageOptionsFromConfig[T any]() pagecache.Options[T] {
	cfg := configSnapshot()
	return pagecache.Options[T]{
		PageSize:       cfg.Pages.PageSize,
		PreloadPages:   cfg.Pages.PreloadPages,
		MaxCachedPages: cfg.Pages.MaxCachedPages,
		TTL:            cfg.Pages.TTL,
	}
}
