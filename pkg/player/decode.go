package player

import (
	"io"
	"os"

	"github.com/go-audio/wav"

	"github.com/arzzra/confbridge/pkg/media"
)

// Коды формата WAV (поле fmt chunk wFormatTag)
const (
	wavFormatPCM  = 1
	wavFormatALAW = 6
	wavFormatULAW = 7
)

// clip - полностью декодированный файл
type clip struct {
	path          string
	clockRate     int
	channels      int
	formatID      media.FormatID
	bitsPerSample int
	sizeBytes     uint32
	samples       []int16 // чередующиеся отсчеты всех каналов
}

// samplesPerChannel возвращает длину файла в отсчетах одного канала
func (c *clip) samplesPerChannel() int {
	return len(c.samples) / c.channels
}

// decodeFile читает WAV файл целиком. Поддерживаются PCM 16 бит,
// A-law и μ-law.
func decodeFile(path string) (*clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, media.WrapMediaError(media.ErrorCodeNotFound, "не удалось открыть файл "+path, err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, media.NewError(media.ErrorCodeUnsupportedCapability, "файл %s не является WAV файлом", path)
	}

	c := &clip{
		path:      path,
		clockRate: int(d.SampleRate),
		channels:  int(d.NumChans),
	}
	if c.channels != 1 && c.channels != 2 {
		return nil, media.NewError(media.ErrorCodeUnsupportedCapability,
			"файл %s: неподдерживаемое число каналов %d", path, c.channels)
	}

	switch d.WavAudioFormat {
	case wavFormatPCM:
		if d.BitDepth != 16 {
			return nil, media.NewError(media.ErrorCodeUnsupportedCapability,
				"файл %s: поддерживается только 16-битный PCM, получено %d бит", path, d.BitDepth)
		}
		buf, err := d.FullPCMBuffer()
		if err != nil {
			return nil, media.WrapMediaError(media.ErrorCodeInvalidState, "ошибка чтения "+path, err)
		}
		c.samples = make([]int16, len(buf.Data))
		for i, v := range buf.Data {
			c.samples[i] = int16(v)
		}
		c.formatID = media.FormatL16
		c.bitsPerSample = 16
		c.sizeBytes = uint32(len(c.samples) * 2)

	case wavFormatALAW, wavFormatULAW:
		if err := d.FwdToPCM(); err != nil {
			return nil, media.WrapMediaError(media.ErrorCodeInvalidState, "ошибка чтения "+path, err)
		}
		raw := make([]byte, d.PCMChunk.Size)
		if _, err := io.ReadFull(d.PCMChunk, raw); err != nil {
			return nil, media.WrapMediaError(media.ErrorCodeInvalidState, "ошибка чтения "+path, err)
		}
		if d.WavAudioFormat == wavFormatALAW {
			c.samples = media.DecodeAlaw(raw)
			c.formatID = media.FormatPCMA
		} else {
			c.samples = media.DecodeUlaw(raw)
			c.formatID = media.FormatPCMU
		}
		c.bitsPerSample = 8
		c.sizeBytes = uint32(len(raw))

	default:
		return nil, media.NewError(media.ErrorCodeUnsupportedCapability,
			"файл %s: неподдерживаемый формат WAV %d", path, d.WavAudioFormat)
	}

	// Неполный последний кадр отбрасывается
	c.samples = c.samples[:len(c.samples)/c.channels*c.channels]
	return c, nil
}
