package device

import (
	"sync"

	"github.com/arzzra/confbridge/pkg/media"
)

// VirtualDriver - драйвер устройств в памяти. Поток не имеет собственных
// часов: кадры подаются вызовом VirtualStream.Pump. Используется в тестах
// и при встраивании моста в приложение со своим аудио вводом-выводом.
type VirtualDriver struct {
	name    string
	devices []DevInfo

	mu   sync.Mutex
	last *VirtualStream
}

// NewVirtualDriver создает драйвер с указанными устройствами
func NewVirtualDriver(name string, devices ...DevInfo) *VirtualDriver {
	devs := make([]DevInfo, len(devices))
	for i, d := range devices {
		d.Driver = name
		devs[i] = d
	}
	return &VirtualDriver{name: name, devices: devs}
}

// Name реализует Driver
func (d *VirtualDriver) Name() string { return d.name }

// Devices реализует Driver
func (d *VirtualDriver) Devices() ([]DevInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DevInfo(nil), d.devices...), nil
}

// AddDevice добавляет устройство; видно после Manager.RefreshDevs
func (d *VirtualDriver) AddDevice(info DevInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	info.Driver = d.name
	d.devices = append(d.devices, info)
}

// Open реализует Driver
func (d *VirtualDriver) Open(param StreamParam, cb Callback) (Stream, error) {
	if err := param.Format.Validate(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var caps Cap
	for _, idx := range []int{param.CaptureDev, param.PlaybackDev} {
		if idx < 0 {
			continue
		}
		if idx >= len(d.devices) {
			return nil, media.NewError(media.ErrorCodeNotFound, "устройство %d драйвера %s не найдено", idx, d.name)
		}
		caps |= d.devices[idx].Caps
	}
	if param.CaptureDev >= 0 && d.devices[param.CaptureDev].InputCount == 0 {
		return nil, media.NewError(media.ErrorCodeInvalidState, "устройство %q не поддерживает запись", d.devices[param.CaptureDev].Name)
	}
	if param.PlaybackDev >= 0 && d.devices[param.PlaybackDev].OutputCount == 0 {
		return nil, media.NewError(media.ErrorCodeInvalidState, "устройство %q не поддерживает воспроизведение", d.devices[param.PlaybackDev].Name)
	}

	s := &VirtualStream{
		param:  param,
		cb:     cb,
		caps:   caps,
		values: make(map[Cap]any),
	}
	for c, v := range param.Settings {
		if caps&c != 0 {
			s.values[c] = v
		}
	}
	if param.PlaybackDev >= 0 {
		s.playback = media.NewFrame(param.Format.SamplesPerFrame())
	}
	d.last = s
	return s, nil
}

// Stream возвращает последний открытый поток драйвера
func (d *VirtualDriver) Stream() *VirtualStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

// VirtualStream - поток виртуального устройства
type VirtualStream struct {
	param StreamParam
	cb    Callback
	caps  Cap

	mu        sync.Mutex
	running   bool
	closed    bool
	values    map[Cap]any
	playback  media.Frame
	inLevel   uint
	outLevel  uint
	processed int
}

// Pump передает потоку записанный кадр и возвращает кадр воспроизведения.
// Остановленный поток возвращает InvalidState.
func (s *VirtualStream) Pump(capture media.Frame) (media.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil, media.NewError(media.ErrorCodeInvalidState, "поток не запущен")
	}

	var in media.Frame
	if s.param.CaptureDev >= 0 {
		in = capture
		if in == nil {
			in = media.NewFrame(s.param.Format.SamplesPerFrame())
		}
		s.inLevel = media.SignalLevel(in)
	}
	if err := s.cb(in, s.playback); err != nil {
		return nil, err
	}
	s.processed++
	if s.playback == nil {
		return nil, nil
	}
	s.outLevel = media.SignalLevel(s.playback)
	return s.playback.Clone(), nil
}

// Processed возвращает число обработанных кадров
func (s *VirtualStream) Processed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed
}

// IsRunning возвращает true между Start и Stop
func (s *VirtualStream) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start реализует Stream
func (s *VirtualStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return media.NewError(media.ErrorCodeInvalidState, "поток закрыт")
	}
	s.running = true
	return nil
}

// Stop реализует Stream
func (s *VirtualStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	return nil
}

// Close реализует Stream
func (s *VirtualStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.closed = true
	return nil
}

// GetCap реализует Stream
func (s *VirtualStream) GetCap(c Cap) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.caps&c == 0 {
		return nil, media.NewError(media.ErrorCodeUnsupportedCapability, "устройство не поддерживает %s", capString(c))
	}
	switch c {
	case CapInputSignalMeter:
		return s.inLevel, nil
	case CapOutputSignalMeter:
		return s.outLevel, nil
	}
	v, ok := s.values[c]
	if !ok {
		return nil, media.NewError(media.ErrorCodeNotFound, "значение %s не задано", capString(c))
	}
	return v, nil
}

// SetCap реализует Stream
func (s *VirtualStream) SetCap(c Cap, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.caps&c == 0 {
		return media.NewError(media.ErrorCodeUnsupportedCapability, "устройство не поддерживает %s", capString(c))
	}
	if c == CapInputSignalMeter || c == CapOutputSignalMeter {
		return media.NewError(media.ErrorCodeInvalidState, "%s доступен только для чтения", capString(c))
	}
	s.values[c] = value
	return nil
}
