// config/config.go
package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

// Configuration stores all the configurations
type Configuration struct {
	Store        StoreConfiguration
	Pages        PageConfiguration
	Permissions  PermissionConfiguration
	Queue        QueueConfiguration
	Orchestrator OrchestratorConfiguration
}

// StoreConfiguration stores settings for the durable store. SweepInterval
// is the cadence of the orchestrator's maintenance janitor.
type StoreConfiguration struct {
	Enabled       bool
	Path          string
	BudgetBytes   int64
	EntryCapRatio float64
	DefaultTTL    time.Duration
	SweepInterval time.Duration
}

// PageConfiguration stores settings for the page-window cache
type PageConfiguration struct {
	PageSize       int
	PreloadPages   int
	MaxCachedPages int
	TTL            time.Duration
}

// PermissionConfiguration stores settings for the permission cache
type PermissionConfiguration struct {
	Enabled         bool
	DefaultTTL      time.Duration
	PressureRatio   float64
	PressureEntries int
	ProfileMaxAge   time.Duration
}

// QueueConfiguration stores settings for the offline operation queue
type QueueConfiguration struct {
	Enabled        bool
	BatchSize      int
	MaxRetries     int
	BaseRetryDelay time.Duration
	DrainInterval  time.Duration
}

// OrchestratorConfiguration stores top-level settings
type OrchestratorConfiguration struct {
	DefaultTTL time.Duration
}

var config *Configuration

func InitConfig() error {
	viper.AddConfigPath("config") // path to look for the config file in
	viper.SetConfigName("config") // name of the config file (without extension)
	viper.SetConfigType("yaml")   // REQUIRED if the config file does not have the extension in the name

	viper.AutomaticEnv() // read in environment variables that match

	// Set default configurations
	viper.SetDefault("store.enabled", true)
	viper.SetDefault("store.path", "cachecore.db")
	viper.SetDefault("store.budgetBytes", 50*1024*1024)
	viper.SetDefault("store.entryCapRatio", 0.10)
	viper.SetDefault("store.defaultTTL", "10m")
	viper.SetDefault("store.sweepInterval", "5m")
	viper.SetDefault("pages.pageSize", 10)
	viper.SetDefault("pages.preloadPages", 1)
	viper.SetDefault("pages.maxCachedPages", 20)
	viper.SetDefault("pages.ttl", "5m")
	viper.SetDefault("permissions.enabled", true)
	viper.SetDefault("permissions.defaultTTL", "10m")
	viper.SetDefault("permissions.pressureRatio", 0.20)
	viper.SetDefault("permissions.pressureEntries", 1024)
	viper.SetDefault("permissions.profileMaxAge", "8h")
	viper.SetDefault("queue.enabled", true)
	viper.SetDefault("queue.batchSize", 5)
	viper.SetDefault("queue.maxRetries", 3)
	viper.SetDefault("queue.baseRetryDelay", "5s")
	viper.SetDefault("queue.drainInterval", "30s")
	viper.SetDefault("orchestrator.defaultTTL", "10m")
	viper.SetDefault("log.dir", "logging")

	// Attempt to read the config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found. Using default settings and environment variables.")
		} else {
			return err
		}
	}

	// Unmarshal the configuration into the Configuration struct
	err := viper.Unmarshal(&config)
	if err != nil {
		return err
	}

	return nil
}

// GetConfig returns the loaded configuration
func GetConfig() *Configuration {
	return config
}

// GetString retrieves a string value from the configuration
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt retrieves an integer value from the configuration
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool retrieves a boolean value from the configuration
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetFloat64 retrieves a float64 value from the configuration
func GetFloat64(key string) float64 {
	return viper.GetFloat64(key)
}

// GetDuration retrieves a duration value from the configuration
func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}
