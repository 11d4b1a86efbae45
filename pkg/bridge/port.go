package bridge

import (
	"github.com/arzzra/confbridge/pkg/media"
)

// InvalidPortID - значение ID для незарегистрированного порта
const InvalidPortID = -1

// Kind - тег варианта медиа порта, используется для безопасного приведения типов
type Kind int

const (
	KindGeneric Kind = iota
	KindPlayer
	KindPlaylist
	KindRecorder
	KindToneGenerator
	KindSoundDevice
	KindStream
)

// String возвращает строковое представление варианта порта
func (k Kind) String() string {
	switch k {
	case KindGeneric:
		return "generic"
	case KindPlayer:
		return "player"
	case KindPlaylist:
		return "playlist"
	case KindRecorder:
		return "recorder"
	case KindToneGenerator:
		return "tonegen"
	case KindSoundDevice:
		return "sounddev"
	case KindStream:
		return "stream"
	default:
		return "unknown"
	}
}

// Port - медиа порт, который можно зарегистрировать в мосте.
// Порт должен реализовать хотя бы одну из ролей Source или Sink.
//
// Методы GetFrame и PutFrame вызываются из цикла обработки и не должны
// блокироваться на вводе-выводе.
type Port interface {
	// Format возвращает формат порта. Длительность кадра задается мостом.
	Format() media.Format
}

// Source - порт, производящий кадры (проигрыватель, генератор, микрофон)
type Source interface {
	Port
	// GetFrame заполняет кадр f. Ошибка приводит к тишине в этом кадре.
	GetFrame(f media.Frame) error
}

// Sink - порт, потребляющий кадры (рекордер, динамик)
type Sink interface {
	Port
	// PutFrame передает порту смешанный кадр. Кадр действителен только
	// на время вызова.
	PutFrame(f media.Frame) error
}

// PortInfo - снимок состояния порта конференц-моста
type PortInfo struct {
	PortID     int          `json:"port_id"`
	Name       string       `json:"name"`
	Kind       Kind         `json:"kind"`
	Format     media.Format `json:"format"`
	TxLevelAdj float32      `json:"tx_level_adj"`
	RxLevelAdj float32      `json:"rx_level_adj"`
	// Listeners - порты, в которые передает этот порт
	Listeners []int `json:"listeners"`
	// Transmitters - порты, передающие в этот порт
	Transmitters []int `json:"transmitters"`
}
