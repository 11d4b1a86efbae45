package device

import (
	"github.com/arzzra/confbridge/pkg/media"
)

// Cap - битовая маска возможностей аудио устройства
type Cap uint32

const (
	CapExtFormat Cap = 1 << iota
	CapInputLatency
	CapOutputLatency
	CapInputVolumeSetting
	CapOutputVolumeSetting
	CapInputSignalMeter
	CapOutputSignalMeter
	CapInputRoute
	CapOutputRoute
	CapEC
	CapECTail
	CapVAD
	CapCNG
	CapPLC
)

var capNames = []struct {
	cap  Cap
	name string
	desc string
}{
	{CapExtFormat, "ext-fmt", "Extended/non-PCM format"},
	{CapInputLatency, "latency-in", "Input latency/buffer size setting"},
	{CapOutputLatency, "latency-out", "Output latency/buffer size setting"},
	{CapInputVolumeSetting, "vol-in", "Input volume setting"},
	{CapOutputVolumeSetting, "vol-out", "Output volume setting"},
	{CapInputSignalMeter, "meter-in", "Input meter"},
	{CapOutputSignalMeter, "meter-out", "Output meter"},
	{CapInputRoute, "route-in", "Input routing"},
	{CapOutputRoute, "route-out", "Output routing"},
	{CapEC, "aec", "Acoustic echo cancellation"},
	{CapECTail, "aec-tail", "Tail length setting for AEC"},
	{CapVAD, "vad", "Voice activity detection"},
	{CapCNG, "cng", "Comfort noise generation"},
	{CapPLC, "plc", "Packet loss concealment"},
}

// CapName возвращает короткое имя и описание возможности.
// Для неизвестной возможности возвращаются "?" и пустое описание.
func CapName(c Cap) (name, desc string) {
	for _, n := range capNames {
		if n.cap == c {
			return n.name, n.desc
		}
	}
	return "?", ""
}

// Route - маршрут аудио (динамик, наушник, bluetooth)
type Route uint32

const (
	RouteDefault     Route = 0
	RouteLoudspeaker Route = 1
	RouteEarpiece    Route = 2
	RouteBluetooth   Route = 4
)

// DevInfo описывает аудио устройство
type DevInfo struct {
	Name                 string         `json:"name"`
	Driver               string         `json:"driver"`
	InputCount           int            `json:"input_count"`
	OutputCount          int            `json:"output_count"`
	DefaultSamplesPerSec int            `json:"default_samples_per_sec"`
	Caps                 Cap            `json:"caps"`
	Routes               Route          `json:"routes"`
	ExtFormats           []media.Format `json:"ext_formats,omitempty"`
}

// StreamParam - параметры открытия аудио потока.
// Индексы устройств локальны для драйвера; -1 - направление не используется.
type StreamParam struct {
	CaptureDev  int
	PlaybackDev int
	Format      media.Format

	// Flags - возможности, значения которых заданы в Settings
	Flags    Cap
	Settings map[Cap]any
}

// Callback вызывается потоком на каждый кадр. capture - записанный кадр
// (nil без устройства записи), playback - буфер для заполнения
// (nil без устройства воспроизведения).
type Callback func(capture, playback media.Frame) error

// Stream - открытый аудио поток
type Stream interface {
	Start() error
	Stop() error
	Close() error
	// GetCap возвращает текущее значение возможности
	GetCap(c Cap) (any, error)
	// SetCap изменяет значение возможности на работающем потоке
	SetCap(c Cap, value any) error
}

// Driver - драйвер аудио устройств
type Driver interface {
	Name() string
	Devices() ([]DevInfo, error)
	Open(param StreamParam, cb Callback) (Stream, error)
}
