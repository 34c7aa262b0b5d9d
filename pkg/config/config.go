// Package config fills envconfig structs from the process environment after
// merging in an optional .env file read with viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

const defaultEnvFile = ".env"

var (
	mu       sync.Mutex
	envFile  string
	loaded   bool
	loadErr  error
	exported = map[string]bool{}
)

// SetEnvFile pins the env file used by New. The file is re-read on the next
// call. An empty path falls back to ./.env when it exists.
func SetEnvFile(path string) {
	mu.Lock()
	defer mu.Unlock()

	for k := range exported {
		os.Unsetenv(k)
	}
	exported = map[string]bool{}
	envFile = strings.TrimSpace(path)
	loaded = false
	loadErr = nil
}

func MustNew[T any](prefix string) *T {
	conf, err := New[T](prefix)
	if err != nil {
		panic(err)
	}
	return conf
}

// New processes T with the given envconfig prefix. Variables already present
// in the process environment take precedence over the env file.
func New[T any](prefix string) (*T, error) {
	if err := loadEnvFile(); err != nil {
		return nil, err
	}

	var conf T
	if err := envconfig.Process(prefix, &conf); err != nil {
		return nil, fmt.Errorf("process %s config: %w", strings.ToLower(prefix), err)
	}
	return &conf, nil
}

func loadEnvFile() error {
	mu.Lock()
	defer mu.Unlock()

	if loaded {
		return loadErr
	}
	loaded = true

	if envFile != "" {
		if err := exportEnvironment(envFile); err != nil {
			loadErr = fmt.Errorf("failed to load env file: %w", err)
		}
		return loadErr
	}

	info, err := os.Stat(defaultEnvFile)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil
	case err != nil:
		loadErr = err
	case info.IsDir():
		return nil
	default:
		if err := exportEnvironment(defaultEnvFile); err != nil {
			loadErr = fmt.Errorf("failed to load default env file: %w", err)
		}
	}
	return loadErr
}

func exportEnvironment(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return err
	}

	for k, val := range v.AllSettings() {
		key := strings.ToUpper(k)
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, fmt.Sprint(val)); err != nil {
			return err
		}
		exported[key] = true
	}
	return nil
}
