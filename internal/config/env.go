package config

import (
	"os"
	"strings"
)

const envFileName = ".env"

// LoadWithEnvFile reads KEY=VALUE pairs from path into the process
// environment without overriding variables that are already set, then loads
// the config. A missing file is not an error.
func LoadWithEnvFile(path string) (Config, error) {
	if path == "" {
		path = envFileName
	}
	if err := loadEnvFile(path); err != nil && !os.IsNotExist(err) {
		return Config{}, err
	}
	return Load(), nil
}

func loadEnvFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	lines := strings.Split(string(data), "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		val = strings.Trim(val, "\"")
		if os.Getenv(key) == "" {
			_ = os.Setenv(key, val)
		}
	}
	return nil
}
