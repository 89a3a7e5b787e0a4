package types

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/prometheus/common/model"
	"gopkg.in/yaml.v3"
)

var (
	//ConfigFile is the default location of the collector configuration
	ConfigFile = "/etc/nvml-collector/config.yaml"
)

const (
	defaultListenAddress  = ":9400"
	defaultCheckInterval  = 15 * time.Second
	defaultKubeletTimeout = 10 * time.Second
	minCheckInterval      = time.Second
)

// Config defines the collector runtime settings
type Config struct {
	ListenAddress string        `yaml:"listenAddress"`
	CheckInterval time.Duration `yaml:"checkInterval"`
	// series that were not refreshed for this long disappear from /metrics, 0 means 3x CheckInterval
	StaleAfter     time.Duration `yaml:"staleAfter"`
	KubeletTimeout time.Duration `yaml:"kubeletTimeout"`
	LibraryPath    string        `yaml:"libraryPath"`
	Tags           []string      `yaml:"tags"`
}

// DefaultConfig returns the configuration used when no config file exists
func DefaultConfig() Config {
	c := Config{}
	c.normalize()
	return c
}

func (c *Config) normalize() {
	if c.ListenAddress == "" {
		c.ListenAddress = defaultListenAddress
	}
	if c.CheckInterval == 0 {
		c.CheckInterval = defaultCheckInterval
	} else if c.CheckInterval < minCheckInterval {
		c.CheckInterval = minCheckInterval
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 3 * c.CheckInterval
	}
	if c.KubeletTimeout <= 0 {
		c.KubeletTimeout = defaultKubeletTimeout
	}
}

// ReadConfigFile reads a collector configuration file and fills in defaults
func ReadConfigFile(name string) (Config, error) {
	file, err := os.ReadFile(name)
	if err != nil {
		return Config{}, fmt.Errorf("could not read config file: %s, because: %s", name, err)
	}
	var config Config
	err = yaml.Unmarshal(file, &config)
	if err != nil {
		return Config{}, fmt.Errorf("collector config file could not be parsed because: %s", err)
	}
	for _, tag := range config.Tags {
		if err := validateTag(tag); err != nil {
			return Config{}, err
		}
	}
	config.normalize()
	return config, nil
}

// validateTag accepts key:value tags whose key is a plain label name not owned by the collector
func validateTag(tag string) error {
	key, _, found := strings.Cut(tag, ":")
	if !found {
		return fmt.Errorf("tag %q is not in key:value form", tag)
	}
	if !model.LabelNameRE.MatchString(key) {
		return fmt.Errorf("tag %q: key %q is not a valid label name", tag, key)
	}
	if strings.HasPrefix(key, model.ReservedLabelPrefix) {
		return fmt.Errorf("tag %q: keys starting with %s are reserved", tag, model.ReservedLabelPrefix)
	}
	if slices.Contains(ReservedTagKeys, key) {
		return fmt.Errorf("tag %q: key %q is set by the collector", tag, key)
	}
	return nil
}

// LoadConfig reads name if it exists and falls back to DefaultConfig otherwise
func LoadConfig(name string) (Config, error) {
	if _, err := os.Stat(name); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	return ReadConfigFile(name)
}
