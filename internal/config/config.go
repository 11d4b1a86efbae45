// Package config загружает конфигурацию confbridge из YAML файла.
//
// Значения файла накладываются на значения по умолчанию, затем поверх
// применяются непустые поля переопределений (например, флаги командной
// строки).
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/imdario/mergo"
	"gopkg.in/yaml.v3"

	"github.com/arzzra/confbridge/pkg/endpoint"
)

// Config - конфигурация процесса confbridge
type Config struct {
	Log      LogConfig       `yaml:"log"`
	API      APIConfig       `yaml:"api"`
	Endpoint endpoint.Config `yaml:"endpoint"`
}

// LogConfig - параметры логирования
type LogConfig struct {
	Level string `yaml:"level"`
}

// APIConfig - параметры административного HTTP API
type APIConfig struct {
	Listen          string        `yaml:"listen"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default возвращает конфигурацию по умолчанию
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info"},
		API: APIConfig{
			Listen:          ":8080",
			ShutdownTimeout: 5 * time.Second,
		},
		Endpoint: endpoint.DefaultConfig(),
	}
}

// Parse разбирает YAML поверх значений по умолчанию.
// Неизвестные поля считаются ошибкой.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("ошибка разбора конфигурации: %w", err)
	}
	return cfg, nil
}

// Load читает файл конфигурации и применяет переопределения.
// Пустой path - только значения по умолчанию.
func Load(path string, overrides Config) (Config, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("ошибка чтения конфигурации: %w", err)
		}
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, err
	}
	if err := Merge(&cfg, overrides); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Merge переносит в dst непустые поля src
func Merge(dst *Config, src Config) error {
	if err := mergo.Merge(dst, src, mergo.WithOverride, mergo.WithTypeCheck); err != nil {
		return fmt.Errorf("ошибка объединения конфигурации: %w", err)
	}
	return nil
}

// Validate проверяет конфигурацию
func (c Config) Validate() error {
	if c.API.Listen == "" {
		return fmt.Errorf("не задан адрес API")
	}
	return c.Endpoint.Validate()
}
