package device

import (
	"github.com/arzzra/confbridge/pkg/media"
)

// setCap применяет значение к открытому устройству и, если keep,
// сохраняет его для следующего открытия.
func (m *Manager) setCap(c Cap, value any, keep bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Is(StateActive) && m.stream != nil {
		if m.streamCaps&c == 0 {
			return media.NewError(media.ErrorCodeUnsupportedCapability,
				"устройство не поддерживает %s", capString(c))
		}
		if err := m.stream.SetCap(c, value); err != nil {
			return err
		}
	}
	if keep {
		m.keep[c] = value
	}
	return nil
}

// getCap возвращает значение открытого устройства, иначе сохраненное
func (m *Manager) getCap(c Cap) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var streamErr error
	if m.stream != nil {
		v, err := m.stream.GetCap(c)
		if err == nil {
			return v, nil
		}
		streamErr = err
	}
	if v, ok := m.keep[c]; ok {
		return v, nil
	}
	if streamErr != nil {
		return nil, streamErr
	}
	return nil, media.NewError(media.ErrorCodeNotFound, "значение %s не задано", capString(c))
}

func capValue[T any](m *Manager, c Cap) (T, error) {
	var zero T
	v, err := m.getCap(c)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, media.NewError(media.ErrorCodeInvalidState, "неожиданный тип значения %s: %T", capString(c), v)
	}
	return t, nil
}

// SetExtFormat задает расширенный (не PCM) формат устройства
func (m *Manager) SetExtFormat(format media.Format, keep bool) error {
	return m.setCap(CapExtFormat, format, keep)
}

// ExtFormat возвращает расширенный формат устройства
func (m *Manager) ExtFormat() (media.Format, error) {
	return capValue[media.Format](m, CapExtFormat)
}

// SetInputLatency задает задержку записи в мс
func (m *Manager) SetInputLatency(msec int, keep bool) error {
	if msec < 0 {
		return media.NewError(media.ErrorCodeInvalidState, "некорректная задержка %d", msec)
	}
	return m.setCap(CapInputLatency, msec, keep)
}

// InputLatency возвращает задержку записи в мс
func (m *Manager) InputLatency() (int, error) {
	return capValue[int](m, CapInputLatency)
}

// SetOutputLatency задает задержку воспроизведения в мс
func (m *Manager) SetOutputLatency(msec int, keep bool) error {
	if msec < 0 {
		return media.NewError(media.ErrorCodeInvalidState, "некорректная задержка %d", msec)
	}
	return m.setCap(CapOutputLatency, msec, keep)
}

// OutputLatency возвращает задержку воспроизведения в мс
func (m *Manager) OutputLatency() (int, error) {
	return capValue[int](m, CapOutputLatency)
}

// SetInputVolume задает громкость записи в процентах (0-100)
func (m *Manager) SetInputVolume(volume uint, keep bool) error {
	if volume > 100 {
		return media.NewError(media.ErrorCodeInvalidState, "некорректная громкость %d", volume)
	}
	return m.setCap(CapInputVolumeSetting, volume, keep)
}

// InputVolume возвращает громкость записи
func (m *Manager) InputVolume() (uint, error) {
	return capValue[uint](m, CapInputVolumeSetting)
}

// SetOutputVolume задает громкость воспроизведения в процентах (0-100)
func (m *Manager) SetOutputVolume(volume uint, keep bool) error {
	if volume > 100 {
		return media.NewError(media.ErrorCodeInvalidState, "некорректная громкость %d", volume)
	}
	return m.setCap(CapOutputVolumeSetting, volume, keep)
}

// OutputVolume возвращает громкость воспроизведения
func (m *Manager) OutputVolume() (uint, error) {
	return capValue[uint](m, CapOutputVolumeSetting)
}

// InputSignal возвращает уровень сигнала записи (0-100), только чтение
func (m *Manager) InputSignal() (uint, error) {
	return capValue[uint](m, CapInputSignalMeter)
}

// OutputSignal возвращает уровень сигнала воспроизведения (0-100), только чтение
func (m *Manager) OutputSignal() (uint, error) {
	return capValue[uint](m, CapOutputSignalMeter)
}

// SetInputRoute задает маршрут записи
func (m *Manager) SetInputRoute(route Route, keep bool) error {
	return m.setCap(CapInputRoute, route, keep)
}

// InputRoute возвращает маршрут записи
func (m *Manager) InputRoute() (Route, error) {
	return capValue[Route](m, CapInputRoute)
}

// SetOutputRoute задает маршрут воспроизведения
func (m *Manager) SetOutputRoute(route Route, keep bool) error {
	return m.setCap(CapOutputRoute, route, keep)
}

// OutputRoute возвращает маршрут воспроизведения
func (m *Manager) OutputRoute() (Route, error) {
	return capValue[Route](m, CapOutputRoute)
}

// SetVad включает детектор речи устройства
func (m *Manager) SetVad(enable bool, keep bool) error {
	return m.setCap(CapVAD, enable, keep)
}

// Vad возвращает состояние детектора речи
func (m *Manager) Vad() (bool, error) {
	return capValue[bool](m, CapVAD)
}

// SetCng включает генератор комфортного шума устройства
func (m *Manager) SetCng(enable bool, keep bool) error {
	return m.setCap(CapCNG, enable, keep)
}

// Cng возвращает состояние генератора комфортного шума
func (m *Manager) Cng() (bool, error) {
	return capValue[bool](m, CapCNG)
}

// SetPlc включает маскировку потерь устройства
func (m *Manager) SetPlc(enable bool, keep bool) error {
	return m.setCap(CapPLC, enable, keep)
}

// Plc возвращает состояние маскировки потерь
func (m *Manager) Plc() (bool, error) {
	return capValue[bool](m, CapPLC)
}
