package feed

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	DefaultMaxItems = 3
	DefaultTimeout  = 30
)

type ConfigCache struct {
	feedsDir string
	cache    map[string]*Config
	mu       sync.RWMutex
}

func NewConfigCache(feedsDir string) *ConfigCache {
	return &ConfigCache{
		feedsDir: feedsDir,
		cache:    make(map[string]*Config),
	}
}

func (cc *ConfigCache) Run() error {
	if _, err := os.Stat(cc.feedsDir); os.IsNotExist(err) {
		return nil
	}

	files, err := filepath.Glob(filepath.Join(cc.feedsDir, "*.yml"))
	if err != nil {
		return fmt.Errorf("failed to find YML files: %w", err)
	}

	for _, file := range files {
		feedName := strings.TrimSuffix(filepath.Base(file), ".yml")

		config, err := cc.LoadConfig(feedName)
		if err != nil {
			return fmt.Errorf("error loading %s: %w", file, err)
		}

		slog.Debug("Configuration loaded", "feed", feedName, "enabled", config.Settings.Enabled, "max_items", config.Settings.MaxItems)
	}

	return nil
}

func (cc *ConfigCache) LoadConfig(feedName string) (*Config, error) {
	configFile := cc.getConfigFilePath(feedName)
	feedConfig, err := cc.parseConfig(configFile)
	if err != nil {
		return nil, err
	}

	feedConfig.Name = feedName

	if err := cc.validateConfig(feedConfig); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configFile, err)
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.cache[feedConfig.Name] = feedConfig

	return feedConfig, nil
}

func (cc *ConfigCache) GetConfig(feedName string) (*Config, error) {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	feedConfig, ok := cc.cache[feedName]
	if !ok {
		return nil, fmt.Errorf("feed config with name '%s' not found", feedName)
	}
	return feedConfig, nil
}

func (cc *ConfigCache) GetConfigs() map[string]*Config {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	configsCopy := make(map[string]*Config, len(cc.cache))
	for k, v := range cc.cache {
		configsCopy[k] = v
	}
	return configsCopy
}

// GetEnabledConfigs returns enabled sources sorted by name so that runs
// process candidates in a stable order.
func (cc *ConfigCache) GetEnabledConfigs() []*Config {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	enabledConfigs := make([]*Config, 0, len(cc.cache))
	for _, v := range cc.cache {
		if v.Settings.Enabled {
			enabledConfigs = append(enabledConfigs, v)
		}
	}
	sort.Slice(enabledConfigs, func(i, j int) bool {
		return enabledConfigs[i].Name < enabledConfigs[j].Name
	})
	return enabledConfigs
}

func (cc *ConfigCache) GetConfigCount() int {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return len(cc.cache)
}

func (cc *ConfigCache) parseConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var feedConfig Config
	if err := yaml.Unmarshal(data, &feedConfig); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if feedConfig.Settings.MaxItems == 0 {
		feedConfig.Settings.MaxItems = DefaultMaxItems
	}
	if feedConfig.Settings.Timeout == 0 {
		feedConfig.Settings.Timeout = DefaultTimeout
	}

	return &feedConfig, nil
}

func (cc *ConfigCache) validateConfig(feedConfig *Config) error {
	if feedConfig == nil {
		return fmt.Errorf("feedConfig is nil")
	}

	requiredFeedFields := map[string]string{
		"feed name": feedConfig.Name,
		"feed URL":  feedConfig.URL,
	}

	for fieldName, fieldValue := range requiredFeedFields {
		if fieldValue == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
	}

	nonNegativeFields := map[string]int{
		"max items": feedConfig.Settings.MaxItems,
		"timeout":   feedConfig.Settings.Timeout,
	}

	for fieldName, fieldValue := range nonNegativeFields {
		if fieldValue < 0 {
			return fmt.Errorf("%s must be non-negative", fieldName)
		}
	}

	validFields := map[string]bool{
		"title":       true,
		"description": true,
		"content":     true,
		"authors":     true,
		"link":        true,
		"categories":  true,
	}

	for i, filter := range feedConfig.Filters {
		if !validFields[filter.Field] {
			return fmt.Errorf("invalid filter field at index %d: %s", i, filter.Field)
		}
		if len(filter.Includes) == 0 && len(filter.Excludes) == 0 {
			return fmt.Errorf("filter at index %d must have at least one include or exclude rule", i)
		}
	}

	return nil
}

func (cc *ConfigCache) getConfigFilePath(feedName string) string {
	return filepath.Join(cc.feedsDir, feedName+".yml")
}
