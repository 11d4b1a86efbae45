package device

import (
	"sync"

	"github.com/arzzra/confbridge/pkg/bridge"
	"github.com/arzzra/confbridge/pkg/media"
)

// SoundPort - порт звукового устройства в мосте. Один порт служит и
// источником (запись), и приемником (воспроизведение).
type SoundPort struct {
	bridge.AudioMedia

	port *soundPort
}

// soundPort обменивается кадрами между потоком устройства и мостом
type soundPort struct {
	owner  *SoundPort
	format media.Format

	mu          sync.Mutex
	capture     media.Frame
	hasCapture  bool
	playback    media.Frame
	hasPlayback bool
}

func newSoundPort(format media.Format) *SoundPort {
	sp := &SoundPort{}
	sp.port = &soundPort{
		owner:    sp,
		format:   format,
		capture:  media.NewFrame(format.SamplesPerFrame()),
		playback: media.NewFrame(format.SamplesPerFrame()),
	}
	return sp
}

// Format реализует bridge.Port
func (p *soundPort) Format() media.Format {
	return p.format
}

// GetFrame реализует bridge.Source: кадр, записанный устройством
func (p *soundPort) GetFrame(f media.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.hasCapture {
		f.Silence()
		return nil
	}
	n := copy(f, p.capture)
	for i := n; i < len(f); i++ {
		f[i] = 0
	}
	return nil
}

// PutFrame реализует bridge.Sink: кадр для воспроизведения
func (p *soundPort) PutFrame(f media.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	copy(p.playback, f)
	p.hasPlayback = true
	return nil
}

// begin принимает записанный кадр и очищает кадр воспроизведения
func (p *soundPort) begin(capture media.Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hasCapture = capture != nil
	if capture != nil {
		n := copy(p.capture, capture)
		for i := n; i < len(p.capture); i++ {
			p.capture[i] = 0
		}
	}
	p.playback.Silence()
	p.hasPlayback = false
}

// end копирует смешанный кадр в буфер воспроизведения устройства
func (p *soundPort) end(playback media.Frame) {
	if playback == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.hasPlayback {
		playback.Silence()
		return
	}
	n := copy(playback, p.playback)
	for i := n; i < len(playback); i++ {
		playback[i] = 0
	}
}

// MasterPort возвращается SetNoDev: приложение само управляет тактами
// моста, передавая записанный кадр и получая кадр воспроизведения.
type MasterPort struct {
	manager *Manager
	format  media.Format
}

// Format возвращает формат кадров Process
func (mp *MasterPort) Format() media.Format {
	return mp.format
}

// Process выполняет один такт моста. capture может быть nil (тишина).
// Возвращает новый кадр воспроизведения.
func (mp *MasterPort) Process(capture media.Frame) (media.Frame, error) {
	if !mp.manager.isNoDev() {
		return nil, media.NewError(media.ErrorCodeInvalidState, "режим без устройства не активен")
	}
	if capture == nil {
		capture = media.NewFrame(mp.format.SamplesPerFrame())
	}
	playback := media.NewFrame(mp.format.SamplesPerFrame())
	if err := mp.manager.process(capture, playback); err != nil {
		return nil, err
	}
	return playback, nil
}
