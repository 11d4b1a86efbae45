// Package endpoint собирает медиа слой в один явно создаваемый объект:
// конференц-мост, менеджер устройств, менеджер кодеков и реестр метрик.
// Глобального состояния нет, в процессе может быть несколько Endpoint.
package endpoint

import (
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/arzzra/confbridge/pkg/bridge"
	"github.com/arzzra/confbridge/pkg/codec"
	"github.com/arzzra/confbridge/pkg/device"
	"github.com/arzzra/confbridge/pkg/logging"
)

// SoundMode определяет, чем тактируется мост после создания Endpoint
type SoundMode string

const (
	// SoundClosed - звуковое устройство не открывается
	SoundClosed SoundMode = ""
	// SoundNull - нулевое устройство с программными часами
	SoundNull SoundMode = "null"
	// SoundNoDev - без устройства, такты через MasterPort
	SoundNoDev SoundMode = "nodev"
	// SoundDefault - устройства по умолчанию из драйверов
	SoundDefault SoundMode = "default"
)

// Config - конфигурация Endpoint
type Config struct {
	Bridge bridge.Config `yaml:"bridge"`
	Device device.Config `yaml:"device"`
	Codec  codec.Config  `yaml:"codec"`
	Sound  SoundMode     `yaml:"sound"`

	// Drivers - драйверы аудио устройств
	Drivers []device.Driver `yaml:"-"`
	// Registry для метрик; nil - новый реестр с метриками процесса
	Registry *prometheus.Registry `yaml:"-"`
	Logger   logr.Logger          `yaml:"-"`
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Bridge: bridge.DefaultConfig(),
		Device: device.DefaultConfig(),
		Codec:  codec.DefaultConfig(),
		Sound:  SoundNull,
	}
}

// Validate проверяет конфигурацию
func (c Config) Validate() error {
	if err := c.Bridge.Validate(); err != nil {
		return err
	}
	switch c.Sound {
	case SoundClosed, SoundNull, SoundNoDev, SoundDefault:
	default:
		return fmt.Errorf("неизвестный режим звукового устройства %q", c.Sound)
	}
	return nil
}

// Endpoint владеет мостом и менеджерами
type Endpoint struct {
	logger   logr.Logger
	registry *prometheus.Registry
	bridge   *bridge.Bridge
	devices  *device.Manager
	codecs   *codec.Manager
	master   *device.MasterPort

	mu     sync.Mutex
	closed bool
}

// New создает Endpoint и открывает звуковое устройство согласно config.Sound
func New(config Config) (*Endpoint, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	logger := config.Logger
	if logger.GetSink() == nil {
		logger = logging.NewLogger("endpoint")
	}

	registry := config.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	bcfg := config.Bridge
	bcfg.Registerer = registry
	if bcfg.Logger.GetSink() == nil && config.Logger.GetSink() != nil {
		bcfg.Logger = config.Logger.WithName("bridge")
	}
	b, err := bridge.New(bcfg)
	if err != nil {
		return nil, err
	}

	ccfg := config.Codec
	if ccfg.Logger.GetSink() == nil && config.Logger.GetSink() != nil {
		ccfg.Logger = config.Logger.WithName("codec")
	}
	codecs, err := codec.NewManager(ccfg)
	if err != nil {
		_ = b.Close()
		return nil, err
	}

	dcfg := config.Device
	if dcfg.Logger.GetSink() == nil && config.Logger.GetSink() != nil {
		dcfg.Logger = config.Logger.WithName("device")
	}
	devices, err := device.NewManager(b, dcfg, config.Drivers...)
	if err != nil {
		_ = b.Close()
		return nil, err
	}

	e := &Endpoint{
		logger:   logger,
		registry: registry,
		bridge:   b,
		devices:  devices,
		codecs:   codecs,
	}

	switch config.Sound {
	case SoundNull:
		err = devices.SetNullDev()
	case SoundNoDev:
		e.master = devices.SetNoDev()
	case SoundDefault:
		err = devices.Open()
	}
	if err != nil {
		devices.Shutdown()
		_ = b.Close()
		return nil, err
	}

	logger.Info("endpoint создан", "format", b.Format().String(), "sound", string(config.Sound),
		"devices", devices.DevCount())
	return e, nil
}

// Bridge возвращает конференц-мост
func (e *Endpoint) Bridge() *bridge.Bridge { return e.bridge }

// Devices возвращает менеджер устройств
func (e *Endpoint) Devices() *device.Manager { return e.devices }

// Codecs возвращает менеджер кодеков
func (e *Endpoint) Codecs() *codec.Manager { return e.codecs }

// Registry возвращает реестр метрик
func (e *Endpoint) Registry() *prometheus.Registry { return e.registry }

// MasterPort возвращает порт тактирования в режиме SoundNoDev, иначе nil
func (e *Endpoint) MasterPort() *device.MasterPort { return e.master }

// Close закрывает звуковое устройство и мост. Повторный вызов ничего не делает.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	e.devices.Shutdown()
	err := e.bridge.Close()
	e.logger.Info("endpoint закрыт", "frames", e.bridge.FrameCount())
	return err
}
