// Package configuration reads the daemon and scheduler configuration from
// Unix-type environment files, with the process environment taking
// precedence over file values.
package configuration

import (
	"strconv"
	"strings"
	"time"
)

type genericConfigProvider interface {
	Read(filenames ...string) (envMap map[string]string, err error)
}

type ConfigProviderImpl struct {
	GenericConfigReader genericConfigProvider
}

func (c *ConfigProviderImpl) ReadGeneric(filenames ...string) (envMap map[string]string, err error) {
	return c.GenericConfigReader.Read(filenames...)
}

func (c *ConfigProviderImpl) MapKeyToString(envMap map[string]string, key string) string {
	if value, exists := envMap[key]; exists {
		return value
	}
	return ""
}

func (c *ConfigProviderImpl) MapKeyToInt(envMap map[string]string, key string) int {
	value := c.MapKeyToString(envMap, key)
	if value == "" {
		return -1
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return -1
	}
	return intValue
}

func (c *ConfigProviderImpl) MapKeyToInt64(envMap map[string]string, key string) int64 {
	value := c.MapKeyToString(envMap, key)
	if value == "" {
		return -1
	}
	intValue, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return -1
	}
	return intValue
}

// MapKeyToBool returns def for a missing or unparseable key.
func (c *ConfigProviderImpl) MapKeyToBool(envMap map[string]string, key string, def bool) bool {
	value := c.MapKeyToString(envMap, key)
	if value == "" {
		return def
	}
	boolValue, err := strconv.ParseBool(strings.ToLower(value))
	if err != nil {
		return def
	}
	return boolValue
}

// MapKeyToDuration accepts Go durations ("90s") as well as plain seconds.
// It returns -1 for a missing or unparseable key.
func (c *ConfigProviderImpl) MapKeyToDuration(envMap map[string]string, key string) time.Duration {
	value := c.MapKeyToString(envMap, key)
	if value == "" {
		return -1
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return -1
	}
	return d
}

// MergeEnviron overlays environment entries ("KEY=value") carrying prefix
// onto envMap.
func MergeEnviron(envMap map[string]string, environ []string, prefix string) map[string]string {
	if envMap == nil {
		envMap = make(map[string]string)
	}

	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		envMap[key] = value
	}

	return envMap
}
