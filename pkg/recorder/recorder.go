// Package recorder реализует порт конференц-моста для записи в WAV файл.
//
// Кадры, полученные от моста, ставятся в очередь и записываются
// отдельной горутиной, поэтому цикл обработки не блокируется на диске.
// При переполнении очереди кадр отбрасывается и учитывается в Dropped.
package recorder

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/go-logr/logr"

	"github.com/arzzra/confbridge/pkg/bridge"
	"github.com/arzzra/confbridge/pkg/logging"
	"github.com/arzzra/confbridge/pkg/media"
)

// Option - флаги записи
type Option uint

const (
	// WritePCM - линейный 16-битный PCM (по умолчанию)
	WritePCM Option = 0
	// WriteALAW - G.711 A-law, 8 бит
	WriteALAW Option = 1 << iota
	// WriteULAW - G.711 μ-law, 8 бит
	WriteULAW
)

// queueFrames - емкость очереди записи в кадрах
const queueFrames = 64

// Recorder - рекордер WAV файла. Встраивает bridge.AudioMedia.
type Recorder struct {
	bridge.AudioMedia

	port *recordPort
}

type recordPort struct {
	owner    *Recorder
	format   media.Format
	encoding Option
	logger   logr.Logger

	mu     sync.Mutex
	closed bool
	queue  chan media.Frame

	file    *os.File
	enc     *wav.Encoder
	done    chan struct{}
	written atomic.Uint64 // отсчетов одного канала
	dropped atomic.Uint64
	err     error // первая ошибка записи, читается после done
}

// CreateRecorder создает WAV файл и регистрирует рекордер в мосте.
// Поддерживается только расширение .wav; encType должен быть 0,
// maxSize - 0 или -1 (без ограничения).
func CreateRecorder(b *bridge.Bridge, file string, encType uint, maxSize int64, opts Option) (*Recorder, error) {
	if !strings.EqualFold(filepath.Ext(file), ".wav") {
		return nil, media.NewError(media.ErrorCodeUnsupportedCapability,
			"неподдерживаемый формат файла %q", filepath.Ext(file))
	}
	if encType != 0 {
		return nil, media.NewError(media.ErrorCodeUnsupportedCapability, "неподдерживаемый тип кодирования %d", encType)
	}
	if maxSize != 0 && maxSize != -1 {
		return nil, media.NewError(media.ErrorCodeUnsupportedCapability, "ограничение размера файла не поддерживается")
	}
	if opts&WriteALAW != 0 && opts&WriteULAW != 0 {
		return nil, media.NewError(media.ErrorCodeInvalidState, "WriteALAW и WriteULAW взаимоисключающие")
	}

	f, err := os.Create(file)
	if err != nil {
		return nil, media.WrapMediaError(media.ErrorCodeNotFound, "не удалось создать файл "+file, err)
	}

	format := b.Format()
	bitDepth, audioFormat := 16, 1
	switch {
	case opts&WriteALAW != 0:
		bitDepth, audioFormat = 8, 6
	case opts&WriteULAW != 0:
		bitDepth, audioFormat = 8, 7
	}

	r := &Recorder{}
	r.port = &recordPort{
		owner:    r,
		format:   format,
		encoding: opts,
		logger:   logging.NewLogger("recorder"),
		queue:    make(chan media.Frame, queueFrames),
		file:     f,
		enc:      wav.NewEncoder(f, format.ClockRate, bitDepth, format.ChannelCount, audioFormat),
		done:     make(chan struct{}),
	}

	if err := r.RegisterMediaPort(b, r.port, bridge.KindRecorder, file); err != nil {
		f.Close()
		os.Remove(file)
		return nil, err
	}

	go r.port.writeLoop()
	return r, nil
}

// FromAudioMedia возвращает рекордер, встраивающий am, или nil
func FromAudioMedia(am *bridge.AudioMedia) *Recorder {
	if am == nil || am.Kind() != bridge.KindRecorder {
		return nil
	}
	rp, ok := am.Port().(*recordPort)
	if !ok {
		return nil
	}
	return rp.owner
}

// Written возвращает число записанных отсчетов одного канала
func (r *Recorder) Written() uint64 {
	return r.port.written.Load()
}

// Dropped возвращает число кадров, отброшенных из-за переполнения очереди
func (r *Recorder) Dropped() uint64 {
	return r.port.dropped.Load()
}

// Close снимает рекордер с регистрации, дописывает очередь и закрывает файл.
// Повторный вызов ничего не делает.
func (r *Recorder) Close() error {
	r.UnregisterMediaPort()

	rp := r.port
	rp.mu.Lock()
	if rp.closed {
		rp.mu.Unlock()
		return nil
	}
	rp.closed = true
	close(rp.queue)
	rp.mu.Unlock()

	<-rp.done

	err := rp.err
	if cerr := rp.enc.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if cerr := rp.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return media.WrapMediaError(media.ErrorCodeInvalidState, "ошибка записи файла", err)
	}

	rp.logger.V(1).Info("запись завершена", "file", rp.file.Name(),
		"samples", rp.written.Load(), "dropped", rp.dropped.Load())
	return nil
}

// Format реализует bridge.Port
func (rp *recordPort) Format() media.Format {
	return rp.format
}

// PutFrame реализует bridge.Sink
func (rp *recordPort) PutFrame(f media.Frame) error {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	if rp.closed {
		return media.NewError(media.ErrorCodeInvalidState, "рекордер закрыт")
	}
	select {
	case rp.queue <- f.Clone():
	default:
		rp.dropped.Add(1)
	}
	return nil
}

// writeLoop записывает кадры из очереди до ее закрытия
func (rp *recordPort) writeLoop() {
	defer close(rp.done)

	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: rp.format.ChannelCount, SampleRate: rp.format.ClockRate},
		SourceBitDepth: 16,
	}
	for f := range rp.queue {
		if rp.err != nil {
			continue
		}
		buf.Data = rp.encode(buf.Data[:0], f)
		if err := rp.enc.Write(buf); err != nil {
			rp.err = err
			rp.logger.Error(err, "ошибка записи кадра", "file", rp.file.Name())
			continue
		}
		rp.written.Add(uint64(len(f) / rp.format.ChannelCount))
	}
}

func (rp *recordPort) encode(dst []int, f media.Frame) []int {
	for _, s := range f {
		switch {
		case rp.encoding&WriteALAW != 0:
			dst = append(dst, int(media.LinearToAlaw(s)))
		case rp.encoding&WriteULAW != 0:
			dst = append(dst, int(media.LinearToUlaw(s)))
		default:
			dst = append(dst, int(s))
		}
	}
	return dst
}
