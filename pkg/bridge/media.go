package bridge

import (
	"sync"

	"github.com/arzzra/confbridge/pkg/media"
)

// Media - базовый интерфейс медиа объекта
type Media interface {
	Type() media.MediaType
}

// Audio реализуется AudioMedia и всеми типами, которые его встраивают
// (проигрыватель, рекордер, генератор тонов, звуковое устройство).
type Audio interface {
	Media
	audioMedia() *AudioMedia
}

// AudioMedia - дескриптор порта конференц-моста.
//
// Нулевое значение готово к использованию и не зарегистрировано: PortID
// возвращает InvalidPortID, операции над графом возвращают InvalidState.
// Проигрыватель, рекордер и другие порты встраивают AudioMedia и
// регистрируют себя через RegisterMediaPort.
//
// AudioMedia нельзя копировать после первого использования.
type AudioMedia struct {
	mu     sync.Mutex
	bridge *Bridge
	id     int

	// kind и port сохраняются после снятия с регистрации,
	// чтобы приведение типов продолжало работать
	kind Kind
	port Port
}

var _ Audio = (*AudioMedia)(nil)

// Type всегда возвращает MediaTypeAudio
func (m *AudioMedia) Type() media.MediaType {
	return media.MediaTypeAudio
}

func (m *AudioMedia) audioMedia() *AudioMedia {
	return m
}

// AudioMediaFromMedia приводит Media к *AudioMedia.
// Возвращает nil, если m не является аудио медиа.
func AudioMediaFromMedia(m Media) *AudioMedia {
	if m == nil {
		return nil
	}
	a, ok := m.(Audio)
	if !ok {
		return nil
	}
	return a.audioMedia()
}

// Kind возвращает вариант порта, с которым он был зарегистрирован
func (m *AudioMedia) Kind() Kind {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.kind
}

// Port возвращает зарегистрированную реализацию порта или nil
func (m *AudioMedia) Port() Port {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.port
}

// PortID возвращает ID порта в мосте или InvalidPortID, если порт не
// зарегистрирован. ID становится недействительным и после снятия порта
// с регистрации напрямую через Bridge.Unregister.
func (m *AudioMedia) PortID() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bridge == nil || !m.bridge.owns(m.id, m) {
		return InvalidPortID
	}
	return m.id
}

// RegisterMediaPort регистрирует port в мосте b и связывает его с дескриптором
func (m *AudioMedia) RegisterMediaPort(b *Bridge, port Port, kind Kind, name string) error {
	_, err := m.register(b, port, kind, name)
	return err
}

func (m *AudioMedia) register(b *Bridge, port Port, kind Kind, name string) (int, error) {
	if b == nil {
		return InvalidPortID, media.NewError(media.ErrorCodeInvalidState, "мост не задан")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.bridge != nil && m.bridge.owns(m.id, m) {
		return InvalidPortID, media.NewPortError(media.ErrorCodeInvalidState, m.id, "медиа порт уже зарегистрирован")
	}

	id, err := b.register(port, kind, name, m)
	if err != nil {
		return InvalidPortID, err
	}
	m.bridge = b
	m.id = id
	m.kind = kind
	m.port = port
	return id, nil
}

// UnregisterMediaPort снимает порт с регистрации. Повторный вызов ничего не делает.
func (m *AudioMedia) UnregisterMediaPort() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.bridge == nil {
		return
	}
	if m.bridge.owns(m.id, m) {
		_ = m.bridge.Unregister(m.id)
	}
	m.bridge = nil
	m.id = InvalidPortID
}

// current возвращает мост и ID зарегистрированного порта
func (m *AudioMedia) current() (*Bridge, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bridge == nil || !m.bridge.owns(m.id, m) {
		return nil, InvalidPortID, media.NewError(media.ErrorCodeInvalidState, "медиа порт не зарегистрирован")
	}
	return m.bridge, m.id, nil
}

// PortInfo возвращает снимок состояния порта
func (m *AudioMedia) PortInfo() (PortInfo, error) {
	b, id, err := m.current()
	if err != nil {
		return PortInfo{}, err
	}
	return b.PortInfo(id)
}

// StartTransmit создает ребро от этого порта к sink.
// Повторный вызов для существующего ребра ничего не меняет.
func (m *AudioMedia) StartTransmit(sink Audio) error {
	b, src, err := m.current()
	if err != nil {
		return err
	}
	sb, dst, err := sinkTarget(sink)
	if err != nil {
		return err
	}
	if sb != b {
		return media.NewPortError(media.ErrorCodeInvalidPort, dst, "порт принадлежит другому мосту")
	}
	return b.Connect(src, dst)
}

// StopTransmit удаляет ребро от этого порта к sink, если оно есть
func (m *AudioMedia) StopTransmit(sink Audio) error {
	b, src, err := m.current()
	if err != nil {
		return err
	}
	sb, dst, err := sinkTarget(sink)
	if err != nil {
		return err
	}
	if sb != b {
		return media.NewPortError(media.ErrorCodeInvalidPort, dst, "порт принадлежит другому мосту")
	}
	return b.Disconnect(src, dst)
}

func sinkTarget(sink Audio) (*Bridge, int, error) {
	am := AudioMediaFromMedia(sink)
	if am == nil {
		return nil, InvalidPortID, media.NewError(media.ErrorCodeInvalidPort, "приемник не задан")
	}
	b, id, err := am.current()
	if err != nil {
		return nil, InvalidPortID, media.WrapMediaError(media.ErrorCodeInvalidPort, "приемник не зарегистрирован", err)
	}
	return b, id, nil
}

// AdjustTxLevel задает коэффициент сигнала, передаваемого портом
func (m *AudioMedia) AdjustTxLevel(level float32) error {
	b, id, err := m.current()
	if err != nil {
		return err
	}
	return b.AdjustTxLevel(id, level)
}

// AdjustRxLevel задает коэффициент сигнала, принимаемого портом
func (m *AudioMedia) AdjustRxLevel(level float32) error {
	b, id, err := m.current()
	if err != nil {
		return err
	}
	return b.AdjustRxLevel(id, level)
}

// TxLevel возвращает последний измеренный уровень передаваемого сигнала (0-100)
func (m *AudioMedia) TxLevel() (uint, error) {
	b, id, err := m.current()
	if err != nil {
		return 0, err
	}
	return b.TxLevel(id)
}

// RxLevel возвращает последний измеренный уровень принимаемого сигнала (0-100)
func (m *AudioMedia) RxLevel() (uint, error) {
	b, id, err := m.current()
	if err != nil {
		return 0, err
	}
	return b.RxLevel(id)
}
