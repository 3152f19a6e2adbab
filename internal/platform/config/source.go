package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// source layers the explicit env map over the process environment over the .env file.
type source struct {
	layers []func(string) (string, bool)
}

func newSource(o loaderOptions) (source, error) {
	dotenv, err := readDotEnv(o.envFile)
	if err != nil {
		return source{}, err
	}
	var s source
	if o.envMap != nil {
		s.layers = append(s.layers, fromMap(o.envMap))
	}
	if o.useSystemEnv {
		s.layers = append(s.layers, os.LookupEnv)
	}
	s.layers = append(s.layers, fromMap(dotenv))
	return s, nil
}

func fromMap(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

// get returns the first non-empty value for key.
func (s source) get(key string) (string, bool) {
	for _, layer := range s.layers {
		if value, ok := layer(key); ok && value != "" {
			return value, true
		}
	}
	return "", false
}

func (s source) str(key, fallback string) string {
	if value, ok := s.get(key); ok {
		return value
	}
	return fallback
}

func (s source) lower(key, fallback string) string {
	return strings.ToLower(s.str(key, fallback))
}

func (s source) duration(key string, fallback time.Duration) time.Duration {
	if value, ok := s.get(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func (s source) integer(key string, fallback int) int {
	if value, ok := s.get(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func (s source) boolean(key string, fallback bool) bool {
	value, ok := s.get(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(value) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return fallback
}

// readDotEnv returns nil for an empty path or a missing file.
func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return values, nil
}

// EnvironmentValues flattens the layers Load reads from, so callers can configure dependencies
// such as the secret fetcher before calling Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	o := newLoaderOptions(opts)
	dotenv, err := readDotEnv(o.envFile)
	if err != nil {
		return nil, err
	}
	values := make(map[string]string, len(dotenv))
	for k, v := range dotenv {
		values[k] = v
	}
	if o.useSystemEnv {
		for _, entry := range os.Environ() {
			if k, v, ok := strings.Cut(entry, "="); ok && strings.TrimSpace(k) != "" {
				values[k] = v
			}
		}
	}
	for k, v := range o.envMap {
		values[k] = v
	}
	return values, nil
}
