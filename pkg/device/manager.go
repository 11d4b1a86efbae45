// Package device управляет аудио устройствами конференц-моста.
//
// Manager перечисляет устройства драйверов, открывает поток выбранных
// устройств записи и воспроизведения и связывает его с портом звукового
// устройства в мосте: каждый кадр потока выполняет один такт моста.
//
// Режимы работы:
//   - active - поток реального или виртуального устройства
//   - null   - нулевое устройство, такты от программных часов
//   - nodev  - устройства нет, такты выполняет приложение через MasterPort
//   - closed - поток не открыт
package device

import (
	"context"
	"sync"

	"github.com/go-logr/logr"
	"github.com/looplab/fsm"

	"github.com/arzzra/confbridge/pkg/bridge"
	"github.com/arzzra/confbridge/pkg/logging"
	"github.com/arzzra/confbridge/pkg/media"
)

// Состояния звукового устройства
const (
	StateClosed = "closed"
	StateActive = "active"
	StateNull   = "null"
	StateNoDev  = "nodev"
)

// NoDev - значение индекса устройства, когда устройство не выбрано
const NoDev = -1

// SndDevMode - флаги режима звукового устройства
type SndDevMode uint

const (
	// SndDevModeNoImmediateOpen - выбор устройства не открывает его сразу
	SndDevModeNoImmediateOpen SndDevMode = 1
)

// Config - конфигурация менеджера устройств
type Config struct {
	CaptureDev  int        `yaml:"capture_dev"`
	PlaybackDev int        `yaml:"playback_dev"`
	Mode        SndDevMode `yaml:"mode"`
	EcTailMsec  int        `yaml:"ec_tail_msec"`
	EcOptions   uint       `yaml:"ec_options"`

	Logger logr.Logger `yaml:"-"`
}

// DefaultConfig возвращает конфигурацию по умолчанию: устройства не
// выбраны, хвост эхоподавления 200 мс.
func DefaultConfig() Config {
	return Config{
		CaptureDev:  NoDev,
		PlaybackDev: NoDev,
		EcTailMsec:  200,
	}
}

type devEntry struct {
	info   DevInfo
	driver Driver
	local  int
}

// Manager - менеджер аудио устройств
type Manager struct {
	bridge *bridge.Bridge
	logger logr.Logger
	sound  *SoundPort

	// procMu сериализует обработку кадров разных потоков при переключении
	procMu sync.Mutex

	mu          sync.Mutex
	drivers     []Driver
	nullDriver  Driver
	devs        []devEntry
	captureDev  int
	playbackDev int
	mode        SndDevMode
	ecTail      int
	ecOptions   uint
	keep        map[Cap]any
	state       *fsm.FSM
	stream      Stream
	streamCaps  Cap
	master      *MasterPort
}

// NewManager создает менеджер, регистрирует порт звукового устройства
// в мосте и перечисляет устройства драйверов.
func NewManager(b *bridge.Bridge, config Config, drivers ...Driver) (*Manager, error) {
	logger := config.Logger
	if logger.GetSink() == nil {
		logger = logging.NewLogger("device")
	}

	m := &Manager{
		bridge:      b,
		logger:      logger,
		sound:       newSoundPort(b.Format()),
		drivers:     drivers,
		nullDriver:  NullDriver{},
		captureDev:  NoDev,
		playbackDev: NoDev,
		mode:        config.Mode,
		ecTail:      config.EcTailMsec,
		ecOptions:   config.EcOptions,
		keep:        make(map[Cap]any),
	}
	m.state = fsm.NewFSM(
		StateClosed,
		fsm.Events{
			{Name: "open", Src: []string{StateClosed}, Dst: StateActive},
			{Name: "null", Src: []string{StateClosed}, Dst: StateNull},
			{Name: "nodev", Src: []string{StateClosed}, Dst: StateNoDev},
			{Name: "close", Src: []string{StateActive, StateNull, StateNoDev}, Dst: StateClosed},
		},
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				m.logger.V(1).Info("состояние звукового устройства", "from", e.Src, "to", e.Dst)
			},
		},
	)

	if err := m.sound.RegisterMediaPort(b, m.sound.port, bridge.KindSoundDevice, "sound-device"); err != nil {
		return nil, err
	}
	if err := m.RefreshDevs(); err != nil {
		m.sound.UnregisterMediaPort()
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range []int{config.CaptureDev, config.PlaybackDev} {
		if id != NoDev && (id < 0 || id >= len(m.devs)) {
			m.sound.UnregisterMediaPort()
			return nil, media.NewError(media.ErrorCodeNotFound, "устройство %d не найдено", id)
		}
	}
	m.captureDev = config.CaptureDev
	m.playbackDev = config.PlaybackDev
	return m, nil
}

// RefreshDevs перечитывает список устройств всех драйверов.
// Индексы устройств действительны до следующего вызова.
func (m *Manager) RefreshDevs() error {
	var devs []devEntry
	for _, drv := range m.drivers {
		infos, err := drv.Devices()
		if err != nil {
			return media.WrapMediaError(media.ErrorCodeResourceExhausted, "ошибка перечисления устройств "+drv.Name(), err)
		}
		for i, info := range infos {
			info.Driver = drv.Name()
			devs = append(devs, devEntry{info: info, driver: drv, local: i})
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.devs = devs
	m.logger.V(1).Info("список устройств обновлен", "count", len(devs))
	return nil
}

// DevCount возвращает число устройств
func (m *Manager) DevCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.devs)
}

// DevInfo возвращает сведения об устройстве
func (m *Manager) DevInfo(id int) (DevInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id < 0 || id >= len(m.devs) {
		return DevInfo{}, media.NewError(media.ErrorCodeNotFound, "устройство %d не найдено", id)
	}
	return m.devs[id].info, nil
}

// EnumDevs возвращает сведения обо всех устройствах
func (m *Manager) EnumDevs() []DevInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	infos := make([]DevInfo, len(m.devs))
	for i, d := range m.devs {
		infos[i] = d.info
	}
	return infos
}

// LookupDev ищет устройство по имени драйвера и имени устройства
func (m *Manager) LookupDev(driverName, devName string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, d := range m.devs {
		if d.info.Driver == driverName && d.info.Name == devName {
			return i, nil
		}
	}
	return NoDev, media.NewError(media.ErrorCodeNotFound, "устройство %q драйвера %q не найдено", devName, driverName)
}

// CapName возвращает имя возможности устройства
func (m *Manager) CapName(c Cap) string {
	name, _ := CapName(c)
	return name
}

// CaptureDev возвращает индекс устройства записи или NoDev
func (m *Manager) CaptureDev() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Is(StateNull) || m.state.Is(StateNoDev) {
		return NoDev
	}
	return m.captureDev
}

// PlaybackDev возвращает индекс устройства воспроизведения или NoDev
func (m *Manager) PlaybackDev() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Is(StateNull) || m.state.Is(StateNoDev) {
		return NoDev
	}
	return m.playbackDev
}

// SetCaptureDev выбирает устройство записи (NoDev - без записи).
// Без SndDevModeNoImmediateOpen устройство открывается сразу.
func (m *Manager) SetCaptureDev(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkDevLocked(id, true); err != nil {
		return err
	}
	m.captureDev = id
	return m.applySelectionLocked()
}

// SetPlaybackDev выбирает устройство воспроизведения (NoDev - без воспроизведения)
func (m *Manager) SetPlaybackDev(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkDevLocked(id, false); err != nil {
		return err
	}
	m.playbackDev = id
	return m.applySelectionLocked()
}

func (m *Manager) checkDevLocked(id int, capture bool) error {
	if id == NoDev {
		return nil
	}
	if id < 0 || id >= len(m.devs) {
		return media.NewError(media.ErrorCodeNotFound, "устройство %d не найдено", id)
	}
	info := m.devs[id].info
	if capture && info.InputCount == 0 {
		return media.NewError(media.ErrorCodeInvalidState, "устройство %q не поддерживает запись", info.Name)
	}
	if !capture && info.OutputCount == 0 {
		return media.NewError(media.ErrorCodeInvalidState, "устройство %q не поддерживает воспроизведение", info.Name)
	}
	return nil
}

func (m *Manager) applySelectionLocked() error {
	if m.mode&SndDevModeNoImmediateOpen != 0 && !m.state.Is(StateActive) {
		return nil
	}
	m.closeStreamLocked()
	if m.captureDev == NoDev && m.playbackDev == NoDev {
		return nil
	}
	return m.openLocked()
}

// CaptureDevMedia возвращает порт звукового устройства для записи
func (m *Manager) CaptureDevMedia() *SoundPort {
	return m.sound
}

// PlaybackDevMedia возвращает порт звукового устройства для воспроизведения.
// Это тот же порт, что и CaptureDevMedia.
func (m *Manager) PlaybackDevMedia() *SoundPort {
	return m.sound
}

// Open открывает выбранные устройства. Если устройства не выбраны,
// используются первые устройства записи и воспроизведения.
func (m *Manager) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeStreamLocked()

	if m.captureDev == NoDev && m.playbackDev == NoDev {
		for i, d := range m.devs {
			if m.captureDev == NoDev && d.info.InputCount > 0 {
				m.captureDev = i
			}
			if m.playbackDev == NoDev && d.info.OutputCount > 0 {
				m.playbackDev = i
			}
		}
		if m.captureDev != NoDev && m.playbackDev != NoDev &&
			m.devs[m.captureDev].driver != m.devs[m.playbackDev].driver {
			m.playbackDev = NoDev
			for i, d := range m.devs {
				if d.driver == m.devs[m.captureDev].driver && d.info.OutputCount > 0 {
					m.playbackDev = i
					break
				}
			}
		}
	}
	if m.captureDev == NoDev && m.playbackDev == NoDev {
		return media.NewError(media.ErrorCodeResourceExhausted, "нет доступных аудио устройств")
	}
	return m.openLocked()
}

func (m *Manager) openLocked() error {
	var drv Driver
	param := StreamParam{
		CaptureDev:  NoDev,
		PlaybackDev: NoDev,
		Format:      m.bridge.Format(),
		Settings:    make(map[Cap]any),
	}
	var caps Cap
	if m.captureDev != NoDev {
		d := m.devs[m.captureDev]
		drv = d.driver
		param.CaptureDev = d.local
		caps |= d.info.Caps
	}
	if m.playbackDev != NoDev {
		d := m.devs[m.playbackDev]
		if drv != nil && drv != d.driver {
			return media.NewError(media.ErrorCodeInvalidState, "устройства записи и воспроизведения принадлежат разным драйверам")
		}
		drv = d.driver
		param.PlaybackDev = d.local
		caps |= d.info.Caps
	}

	for c, v := range m.keep {
		param.Flags |= c
		param.Settings[c] = v
	}
	if m.ecTail > 0 && caps&CapEC != 0 {
		param.Flags |= CapEC | CapECTail
		param.Settings[CapEC] = true
		param.Settings[CapECTail] = m.ecTail
	}

	stream, err := drv.Open(param, m.process)
	if err != nil {
		return media.WrapMediaError(media.ErrorCodeResourceExhausted, "не удалось открыть устройство", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return media.WrapMediaError(media.ErrorCodeResourceExhausted, "не удалось запустить устройство", err)
	}

	m.stream = stream
	m.streamCaps = caps
	_ = m.state.Event(context.Background(), "open")
	m.logger.Info("звуковое устройство открыто", "driver", drv.Name(),
		"capture", m.captureDev, "playback", m.playbackDev)
	return nil
}

func (m *Manager) closeStreamLocked() {
	if m.stream != nil {
		if err := m.stream.Stop(); err != nil {
			m.logger.Error(err, "ошибка остановки потока")
		}
		if err := m.stream.Close(); err != nil {
			m.logger.Error(err, "ошибка закрытия потока")
		}
		m.stream = nil
		m.streamCaps = 0
	}
	m.master = nil
	if !m.state.Is(StateClosed) {
		_ = m.state.Event(context.Background(), "close")
	}
}

// Close закрывает звуковое устройство. Порт устройства остается в мосте.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeStreamLocked()
}

// SetNullDev переключает мост на нулевое устройство с программными часами
func (m *Manager) SetNullDev() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeStreamLocked()

	param := StreamParam{CaptureDev: 0, PlaybackDev: 0, Format: m.bridge.Format()}
	stream, err := m.nullDriver.Open(param, m.process)
	if err != nil {
		return media.WrapMediaError(media.ErrorCodeResourceExhausted, "не удалось открыть нулевое устройство", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return media.WrapMediaError(media.ErrorCodeResourceExhausted, "не удалось запустить нулевое устройство", err)
	}
	m.stream = stream
	_ = m.state.Event(context.Background(), "null")
	m.logger.Info("используется нулевое звуковое устройство")
	return nil
}

// SetNoDev отключает звуковое устройство. Такты моста выполняет
// приложение через возвращенный MasterPort.
func (m *Manager) SetNoDev() *MasterPort {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeStreamLocked()

	m.master = &MasterPort{manager: m, format: m.bridge.Format()}
	_ = m.state.Event(context.Background(), "nodev")
	m.logger.Info("звуковое устройство отключено, такты выполняет приложение")
	return m.master
}

func (m *Manager) isNoDev() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Is(StateNoDev)
}

// State возвращает текущее состояние звукового устройства
func (m *Manager) State() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Current()
}

// SndIsActive возвращает true, если открыт поток устройства
// (включая нулевое устройство)
func (m *Manager) SndIsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream != nil
}

// SetSndDevMode задает флаги режима звукового устройства
func (m *Manager) SetSndDevMode(mode SndDevMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = mode
}

// SndDevMode возвращает флаги режима
func (m *Manager) SndDevMode() SndDevMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// SetEcOptions задает длину хвоста эхоподавления (0 - выключено) и опции.
// Значение применяется к открытому устройству, если оно поддерживает
// эхоподавление, и используется при следующем открытии.
func (m *Manager) SetEcOptions(tailMsec int, options uint) error {
	if tailMsec < 0 {
		return media.NewError(media.ErrorCodeInvalidState, "некорректная длина хвоста %d мс", tailMsec)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream != nil && m.streamCaps&CapEC != 0 {
		if err := m.stream.SetCap(CapEC, tailMsec > 0); err != nil {
			return err
		}
		if m.streamCaps&CapECTail != 0 && tailMsec > 0 {
			if err := m.stream.SetCap(CapECTail, tailMsec); err != nil {
				return err
			}
		}
	}
	m.ecTail = tailMsec
	m.ecOptions = options
	return nil
}

// EcTail возвращает длину хвоста эхоподавления в мс
func (m *Manager) EcTail() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ecTail
}

// process выполняет один такт моста для кадра потока устройства
func (m *Manager) process(capture, playback media.Frame) error {
	m.procMu.Lock()
	defer m.procMu.Unlock()

	m.sound.port.begin(capture)
	m.bridge.Tick()
	m.sound.port.end(playback)
	return nil
}

// Shutdown закрывает устройство и снимает порт устройства с регистрации
func (m *Manager) Shutdown() {
	m.Close()
	m.sound.UnregisterMediaPort()
}
