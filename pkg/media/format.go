package media

import (
	"fmt"
	"time"
)

// FormatID идентифицирует формат аудио отсчетов
type FormatID uint32

const (
	// FormatL16 - линейный 16-битный PCM
	FormatL16 FormatID = iota + 1
	// FormatPCMA - G.711 A-law
	FormatPCMA
	// FormatPCMU - G.711 μ-law
	FormatPCMU
)

// String возвращает строковое представление формата
func (id FormatID) String() string {
	switch id {
	case FormatL16:
		return "L16"
	case FormatPCMA:
		return "PCMA"
	case FormatPCMU:
		return "PCMU"
	default:
		return fmt.Sprintf("FormatID(%d)", uint32(id))
	}
}

// MediaType - тип медиа верхнего уровня
type MediaType int

const (
	MediaTypeNone MediaType = iota
	MediaTypeAudio
	MediaTypeVideo
)

// String возвращает строковое представление типа медиа
func (t MediaType) String() string {
	switch t {
	case MediaTypeAudio:
		return "audio"
	case MediaTypeVideo:
		return "video"
	default:
		return "none"
	}
}

// Format описывает аудио формат порта или устройства.
// Частота, число каналов и длительность кадра определяют размер кадра
// в отсчетах; BitsPerSample относится к представлению на стороне PCM.
type Format struct {
	ID            FormatID `json:"id" yaml:"id"`
	ClockRate     int      `json:"clock_rate" yaml:"clock_rate"`
	ChannelCount  int      `json:"channel_count" yaml:"channel_count"`
	FrameTimeUsec int      `json:"frame_time_usec" yaml:"frame_time_usec"`
	BitsPerSample int      `json:"bits_per_sample" yaml:"bits_per_sample"`
	AvgBps        uint32   `json:"avg_bps" yaml:"avg_bps"`
	MaxBps        uint32   `json:"max_bps" yaml:"max_bps"`
}

// DefaultFormat возвращает формат по умолчанию для конференц-моста:
// 16 кГц, моно, 20 мс, 16 бит.
func DefaultFormat() Format {
	return NewFormat(16000, 1, 20*time.Millisecond)
}

// NewFormat создает линейный 16-битный формат с указанными параметрами
func NewFormat(clockRate, channelCount int, frameTime time.Duration) Format {
	bps := uint32(clockRate * channelCount * 16)
	return Format{
		ID:            FormatL16,
		ClockRate:     clockRate,
		ChannelCount:  channelCount,
		FrameTimeUsec: int(frameTime / time.Microsecond),
		BitsPerSample: 16,
		AvgBps:        bps,
		MaxBps:        bps,
	}
}

// FrameTime возвращает длительность кадра
func (f Format) FrameTime() time.Duration {
	return time.Duration(f.FrameTimeUsec) * time.Microsecond
}

// SamplesPerFrame возвращает число отсчетов в кадре с учетом всех каналов
func (f Format) SamplesPerFrame() int {
	return f.ClockRate * f.FrameTimeUsec / 1000000 * f.ChannelCount
}

// SamplesPerChannel возвращает число отсчетов одного канала в кадре
func (f Format) SamplesPerChannel() int {
	return f.ClockRate * f.FrameTimeUsec / 1000000
}

// WithFrameTime возвращает копию формата с другой длительностью кадра
func (f Format) WithFrameTime(frameTime time.Duration) Format {
	f.FrameTimeUsec = int(frameTime / time.Microsecond)
	return f
}

// Validate проверяет корректность формата.
// Проверяется:
//   - Положительная частота дискретизации
//   - 1 или 2 канала
//   - Длительность кадра дает целое число отсчетов
func (f Format) Validate() error {
	if f.ClockRate <= 0 {
		return NewError(ErrorCodeInvalidState, "некорректная частота дискретизации: %d", f.ClockRate)
	}
	if f.ChannelCount != 1 && f.ChannelCount != 2 {
		return NewError(ErrorCodeUnsupportedCapability, "поддерживается только 1 или 2 канала, получено %d", f.ChannelCount)
	}
	if f.FrameTimeUsec <= 0 {
		return NewError(ErrorCodeInvalidState, "некорректная длительность кадра: %d мкс", f.FrameTimeUsec)
	}
	if f.ClockRate*f.FrameTimeUsec%1000000 != 0 {
		return NewError(ErrorCodeInvalidState, "длительность кадра %d мкс не кратна периоду дискретизации %d Гц",
			f.FrameTimeUsec, f.ClockRate)
	}
	return nil
}

// String возвращает краткое описание формата, например "L16/16000/1@20ms"
func (f Format) String() string {
	return fmt.Sprintf("%s/%d/%d@%s", f.ID, f.ClockRate, f.ChannelCount, f.FrameTime())
}
