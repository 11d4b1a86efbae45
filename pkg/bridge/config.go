package bridge

import (
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/arzzra/confbridge/pkg/media"
)

// Config содержит конфигурацию конференц-моста.
// Позволяет настроить:
//   - Формат моста (частота, каналы, длительность кадра)
//   - Ограничение числа портов
//   - Метрики и логирование
type Config struct {
	// Формат моста
	ClockRate    int           `yaml:"clock_rate"`    // Частота дискретизации (Гц)
	ChannelCount int           `yaml:"channel_count"` // Количество каналов (1 или 2)
	FrameTime    time.Duration `yaml:"frame_time"`    // Длительность кадра (ptime)

	// Управление ресурсами
	MaxPorts int `yaml:"max_ports"` // Максимальное количество одновременно зарегистрированных портов

	// Метрики
	EnableMetrics    bool                  `yaml:"enable_metrics"`
	MetricsNamespace string                `yaml:"metrics_namespace"`
	Registerer       prometheus.Registerer `yaml:"-"` // nil - приватный реестр моста

	// Logger для диагностики; нулевое значение - логгер "bridge" по умолчанию
	Logger logr.Logger `yaml:"-"`
}

// DefaultConfig возвращает конфигурацию по умолчанию:
// 16 кГц моно, кадр 20 мс, до 254 портов.
func DefaultConfig() Config {
	return Config{
		ClockRate:        16000,
		ChannelCount:     1,
		FrameTime:        20 * time.Millisecond,
		MaxPorts:         254,
		EnableMetrics:    true,
		MetricsNamespace: "confbridge",
	}
}

// Validate проверяет корректность конфигурации.
// Проверяется:
//   - Корректность формата моста
//   - Положительное количество портов
func (c Config) Validate() error {
	if c.MaxPorts <= 0 {
		return fmt.Errorf("MaxPorts должен быть больше 0")
	}
	if c.FrameTime <= 0 {
		return fmt.Errorf("FrameTime должен быть больше 0")
	}
	if err := c.Format().Validate(); err != nil {
		return fmt.Errorf("некорректный формат моста: %w", err)
	}
	return nil
}

// Format возвращает аудио формат моста
func (c Config) Format() media.Format {
	return media.NewFormat(c.ClockRate, c.ChannelCount, c.FrameTime)
}
