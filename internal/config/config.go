// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"time"

	"github.com/blinklabs-io/auctioneer/database/plugin"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type ctxKey string

const configContextKey ctxKey = "auctioneer.config"

const (
	DefaultShutdownTimeout = "30s"
	DefaultAuditInterval   = "10m"
	DefaultBlobPlugin      = "badger"
	DefaultMetadataPlugin  = "sqlite"

	envPrefix = "auctioneer"
)

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

type tempConfig struct {
	Config   *Config                   `yaml:"config,omitempty"`
	Database *databaseConfig           `yaml:"database,omitempty"`
	Blob     map[string]map[string]any `yaml:"blob,omitempty"`
	Metadata map[string]map[string]any `yaml:"metadata,omitempty"`
}

type databaseConfig struct {
	Blob     map[string]any `yaml:"blob,omitempty"`
	Metadata map[string]any `yaml:"metadata,omitempty"`
}

// RelayConfig names the external brokers that receive every auction
// message. Empty URLs disable a relay
type RelayConfig struct {
	RedisURL     string `yaml:"redisUrl"     split_words:"true"`
	NatsURL      string `yaml:"natsUrl"      split_words:"true"`
	AmqpURL      string `yaml:"amqpUrl"      split_words:"true"`
	AmqpExchange string `yaml:"amqpExchange" split_words:"true"`
	QueueSize    int    `yaml:"queueSize"    split_words:"true"`
}

// ArchiveConfig controls export of ended auctions. An empty location
// disables the archive
type ArchiveConfig struct {
	Location        string `yaml:"location"`
	Encrypt         bool   `yaml:"encrypt"`
	CredentialsFile string `yaml:"credentialsFile" split_words:"true"`
	Region          string `yaml:"region"`
}

type Config struct {
	DatabasePath        string        `yaml:"databasePath"        split_words:"true"`
	BlobPlugin          string        `yaml:"blobPlugin"          split_words:"true"`
	MetadataPlugin      string        `yaml:"metadataPlugin"      split_words:"true"`
	BindAddr            string        `yaml:"bindAddr"            split_words:"true"`
	ApiPort             uint          `yaml:"apiPort"             split_words:"true"`
	MetricsPort         uint          `yaml:"metricsPort"         split_words:"true"`
	AllowedOrigins      []string      `yaml:"allowedOrigins"      split_words:"true"`
	PingInterval        string        `yaml:"pingInterval"        split_words:"true"`
	BidRateLimit        float64       `yaml:"bidRateLimit"        split_words:"true"`
	BidRateBurst        int           `yaml:"bidRateBurst"        split_words:"true"`
	ReplayCacheSize     int           `yaml:"replayCacheSize"     split_words:"true"`
	SubscriberQueueSize int           `yaml:"subscriberQueueSize" split_words:"true"`
	MaxSubscribersPerIP int           `yaml:"maxSubscribersPerIp" split_words:"true"`
	EventBusWorkers     int           `yaml:"eventBusWorkers"     split_words:"true"`
	EventBusQueueSize   int           `yaml:"eventBusQueueSize"   split_words:"true"`
	AuditInterval       string        `yaml:"auditInterval"       split_words:"true"`
	AuditConcurrency    int           `yaml:"auditConcurrency"    split_words:"true"`
	Tracing             bool          `yaml:"tracing"`
	TracingStdout       bool          `yaml:"tracingStdout"       split_words:"true"`
	ShutdownTimeout     string        `yaml:"shutdownTimeout"     split_words:"true"`
	Relay               RelayConfig   `yaml:"relay"`
	Archive             ArchiveConfig `yaml:"archive"`
}

// Durations parses the duration settings
func (c *Config) Durations() (shutdown, ping, audit time.Duration, err error) {
	parse := func(name string, val string) (time.Duration, error) {
		if val == "" {
			return 0, nil
		}
		ret, err := time.ParseDuration(val)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", name, err)
		}
		return ret, nil
	}
	if shutdown, err = parse("shutdown timeout", c.ShutdownTimeout); err != nil {
		return 0, 0, 0, err
	}
	if ping, err = parse("ping interval", c.PingInterval); err != nil {
		return 0, 0, 0, err
	}
	if audit, err = parse("audit interval", c.AuditInterval); err != nil {
		return 0, 0, 0, err
	}
	return shutdown, ping, audit, nil
}

func defaultConfig() *Config {
	return &Config{
		DatabasePath:        ".auctioneer",
		BlobPlugin:          DefaultBlobPlugin,
		MetadataPlugin:      DefaultMetadataPlugin,
		BindAddr:            "0.0.0.0",
		ApiPort:             8080,
		MetricsPort:         12799,
		PingInterval:        "30s",
		BidRateLimit:        5,
		BidRateBurst:        10,
		ReplayCacheSize:     1024,
		SubscriberQueueSize: 256,
		MaxSubscribersPerIP: 32,
		AuditInterval:       DefaultAuditInterval,
		AuditConcurrency:    4,
		ShutdownTimeout:     DefaultShutdownTimeout,
		Relay: RelayConfig{
			AmqpExchange: "auction.events",
		},
	}
}

var globalConfig = defaultConfig()

// findConfigFile returns the first of ~/.auctioneer/auctioneer.yaml and
// /etc/auctioneer/auctioneer.yaml that exists
func findConfigFile() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		userPath := filepath.Join(homeDir, ".auctioneer", "auctioneer.yaml")
		if _, err := os.Stat(userPath); err == nil {
			return userPath
		}
	}
	systemPath := "/etc/auctioneer/auctioneer.yaml"
	if _, err := os.Stat(systemPath); err == nil {
		return systemPath
	}
	return ""
}

// pluginSection splits a database.blob or database.metadata section into
// the selected plugin name and per-plugin options
func pluginSection(
	section map[string]any,
	kind string,
) (string, map[string]map[string]any) {
	var pluginName string
	if pluginVal, exists := section["plugin"]; exists {
		if tmpName, ok := pluginVal.(string); ok {
			pluginName = tmpName
		}
	}
	ret := make(map[string]map[string]any)
	for k, v := range section {
		if k == "plugin" {
			continue
		}
		switch val := v.(type) {
		case map[string]any:
			ret[k] = val
		case map[any]any:
			stringAnyMap := make(map[string]any)
			for vk, vv := range val {
				if keyStr, ok := vk.(string); ok {
					stringAnyMap[keyStr] = vv
				}
			}
			ret[k] = stringAnyMap
		default:
			fmt.Fprintf(os.Stderr, "warning: skipping %s config entry %q: expected map, got %T\n", kind, k, v)
		}
	}
	return pluginName, ret
}

func LoadConfig(configFile string) (*Config, error) {
	if configFile == "" {
		configFile = findConfigFile()
	}

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}

		// First unmarshal into temp config to handle plugin sections
		var tempCfg tempConfig
		err = yaml.Unmarshal(buf, &tempCfg)
		if err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}

		if tempCfg.Config != nil {
			// Overlay config values onto existing defaults
			configBytes, err := yaml.Marshal(tempCfg.Config)
			if err != nil {
				return nil, fmt.Errorf("error re-marshalling config: %w", err)
			}
			err = yaml.Unmarshal(configBytes, globalConfig)
			if err != nil {
				return nil, fmt.Errorf("error parsing config section: %w", err)
			}
		} else {
			err = yaml.Unmarshal(buf, globalConfig)
			if err != nil {
				return nil, fmt.Errorf("error parsing config file: %w", err)
			}
		}

		pluginConfig := make(map[string]map[string]map[string]any)
		if tempCfg.Blob != nil {
			pluginConfig["blob"] = tempCfg.Blob
		}
		if tempCfg.Metadata != nil {
			pluginConfig["metadata"] = tempCfg.Metadata
		}
		if tempCfg.Database != nil {
			if tempCfg.Database.Blob != nil {
				name, blobConfig := pluginSection(tempCfg.Database.Blob, "blob")
				if name != "" {
					globalConfig.BlobPlugin = name
				}
				if pluginConfig["blob"] == nil {
					pluginConfig["blob"] = blobConfig
				} else {
					maps.Copy(pluginConfig["blob"], blobConfig)
				}
			}
			if tempCfg.Database.Metadata != nil {
				name, metadataConfig := pluginSection(
					tempCfg.Database.Metadata,
					"metadata",
				)
				if name != "" {
					globalConfig.MetadataPlugin = name
				}
				if pluginConfig["metadata"] == nil {
					pluginConfig["metadata"] = metadataConfig
				} else {
					maps.Copy(pluginConfig["metadata"], metadataConfig)
				}
			}
		}
		if len(pluginConfig) > 0 {
			err = plugin.ProcessConfig(pluginConfig)
			if err != nil {
				return nil, fmt.Errorf(
					"error processing plugin config: %w",
					err,
				)
			}
		}
	}
	// Process environment variables
	err := envconfig.Process(envPrefix, globalConfig)
	if err != nil {
		return nil, fmt.Errorf("error processing environment: %+w", err)
	}

	// Process plugin environment variables
	err = plugin.ProcessEnvVars()
	if err != nil {
		return nil, fmt.Errorf(
			"error processing plugin environment variables: %w",
			err,
		)
	}

	if _, _, _, err := globalConfig.Durations(); err != nil {
		return nil, err
	}
	return globalConfig, nil
}

func GetConfig() *Config {
	return globalConfig
}
