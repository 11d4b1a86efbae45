// Package player реализует порты конференц-моста для воспроизведения
// WAV файлов и списков воспроизведения.
//
// Файл декодируется целиком при создании проигрывателя, поэтому цикл
// обработки моста никогда не выполняет файловый ввод-вывод. Достижение
// конца файла сообщается обработчику, заданному SetEOFHandler; обработчик
// вызывается вне цикла обработки и решает, продолжать ли воспроизведение.
package player

import (
	"context"
	"sync"

	"github.com/go-logr/logr"
	"github.com/looplab/fsm"

	"github.com/arzzra/confbridge/pkg/bridge"
	"github.com/arzzra/confbridge/pkg/logging"
	"github.com/arzzra/confbridge/pkg/media"
)

// Option - флаги создания проигрывателя
type Option uint

const (
	// NoLoop останавливает воспроизведение в конце файла
	NoLoop Option = 1 << iota
)

// Состояния проигрывателя
const (
	statePlaying = "playing"
	stateEOF     = "eof"
	stateStopped = "stopped"
)

// Info описывает воспроизводимый файл
type Info struct {
	FormatID             media.FormatID `json:"format_id"`
	PayloadBitsPerSample int            `json:"payload_bits_per_sample"`
	SizeBytes            uint32         `json:"size_bytes"`
	SizeSamples          uint32         `json:"size_samples"`
}

// Player - проигрыватель WAV файла или списка воспроизведения.
// Встраивает bridge.AudioMedia и может быть подключен к любому приемнику моста.
type Player struct {
	bridge.AudioMedia

	port *filePort
}

// filePort - реализация bridge.Source поверх декодированных файлов
type filePort struct {
	owner    *Player
	format   media.Format
	playlist bool
	loop     bool
	logger   logr.Logger

	mu      sync.Mutex
	clips   []*clip
	current int // индекс файла в списке
	pos     int // позиция в clips[current].samples
	state   *fsm.FSM
	onEOF   func() bool
}

// CreatePlayer декодирует файл и регистрирует проигрыватель в мосте
func CreatePlayer(b *bridge.Bridge, file string, opts Option) (*Player, error) {
	c, err := decodeFile(file)
	if err != nil {
		return nil, err
	}
	return newPlayer(b, []*clip{c}, false, file, opts)
}

// CreatePlaylist декодирует все файлы списка и регистрирует проигрыватель.
// Файлы должны иметь одинаковые частоту, число каналов и разрядность.
func CreatePlaylist(b *bridge.Bridge, files []string, label string, opts Option) (*Player, error) {
	if len(files) == 0 {
		return nil, media.NewError(media.ErrorCodeInvalidState, "пустой список воспроизведения")
	}

	clips := make([]*clip, 0, len(files))
	for _, file := range files {
		c, err := decodeFile(file)
		if err != nil {
			return nil, err
		}
		if len(clips) > 0 {
			first := clips[0]
			if c.clockRate != first.clockRate || c.channels != first.channels || c.bitsPerSample != first.bitsPerSample {
				return nil, media.NewError(media.ErrorCodeInvalidState,
					"файл %s: формат отличается от %s", file, first.path).
					WithContext("file", file)
			}
		}
		clips = append(clips, c)
	}
	return newPlayer(b, clips, true, label, opts)
}

func newPlayer(b *bridge.Bridge, clips []*clip, playlist bool, name string, opts Option) (*Player, error) {
	p := &Player{}
	p.port = &filePort{
		owner:    p,
		format:   media.NewFormat(clips[0].clockRate, clips[0].channels, b.Format().FrameTime()),
		playlist: playlist,
		loop:     opts&NoLoop == 0,
		logger:   logging.NewLogger("player"),
		clips:    clips,
	}
	p.port.state = fsm.NewFSM(
		statePlaying,
		fsm.Events{
			{Name: "eof", Src: []string{statePlaying}, Dst: stateEOF},
			{Name: "resume", Src: []string{stateEOF}, Dst: statePlaying},
			{Name: "stop", Src: []string{statePlaying, stateEOF}, Dst: stateStopped},
			{Name: "seek", Src: []string{stateEOF, stateStopped}, Dst: statePlaying},
		},
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				p.port.logger.V(1).Info("состояние проигрывателя", "from", e.Src, "to", e.Dst)
			},
		},
	)

	kind := bridge.KindPlayer
	if playlist {
		kind = bridge.KindPlaylist
	}
	if err := p.RegisterMediaPort(b, p.port, kind, name); err != nil {
		return nil, err
	}
	return p, nil
}

// FromAudioMedia возвращает проигрыватель, встраивающий am, или nil
func FromAudioMedia(am *bridge.AudioMedia) *Player {
	if am == nil {
		return nil
	}
	if k := am.Kind(); k != bridge.KindPlayer && k != bridge.KindPlaylist {
		return nil
	}
	fp, ok := am.Port().(*filePort)
	if !ok {
		return nil
	}
	return fp.owner
}

// IsPlaylist возвращает true для списка воспроизведения
func (p *Player) IsPlaylist() bool {
	return p.port.playlist
}

// SetEOFHandler задает обработчик конца файла (для списка - конца последнего
// файла). Обработчик вызывается в отдельной горутине; возврат false
// останавливает воспроизведение, true продолжает его с начала, если
// проигрыватель создан без NoLoop.
func (p *Player) SetEOFHandler(fn func() bool) {
	p.port.mu.Lock()
	defer p.port.mu.Unlock()
	p.port.onEOF = fn
}

// Info возвращает сведения о файле. Для списка воспроизведения - InvalidState.
func (p *Player) Info() (Info, error) {
	if p.port.playlist {
		return Info{}, media.NewError(media.ErrorCodeInvalidState, "операция недоступна для списка воспроизведения")
	}
	c := p.port.clips[0]
	return Info{
		FormatID:             c.formatID,
		PayloadBitsPerSample: c.bitsPerSample,
		SizeBytes:            c.sizeBytes,
		SizeSamples:          uint32(c.samplesPerChannel()),
	}, nil
}

// Pos возвращает позицию воспроизведения в отсчетах одного канала
func (p *Player) Pos() (uint32, error) {
	if p.port.playlist {
		return 0, media.NewError(media.ErrorCodeInvalidState, "операция недоступна для списка воспроизведения")
	}
	p.port.mu.Lock()
	defer p.port.mu.Unlock()
	return uint32(p.port.pos / p.port.format.ChannelCount), nil
}

// SetPos переходит к позиции samples (в отсчетах одного канала) и
// возобновляет остановленное воспроизведение.
func (p *Player) SetPos(samples uint32) error {
	if p.port.playlist {
		return media.NewError(media.ErrorCodeInvalidState, "операция недоступна для списка воспроизведения")
	}
	fp := p.port
	fp.mu.Lock()
	defer fp.mu.Unlock()

	c := fp.clips[0]
	if int(samples) > c.samplesPerChannel() {
		return media.NewError(media.ErrorCodeInvalidState,
			"позиция %d за пределами файла (%d)", samples, c.samplesPerChannel())
	}
	fp.pos = int(samples) * c.channels
	if !fp.state.Is(statePlaying) {
		_ = fp.state.Event(context.Background(), "seek")
	}
	return nil
}

// IsPlaying возвращает true, пока проигрыватель выдает сигнал файла
func (p *Player) IsPlaying() bool {
	p.port.mu.Lock()
	defer p.port.mu.Unlock()
	return p.port.state.Is(statePlaying)
}

// Close снимает проигрыватель с регистрации
func (p *Player) Close() {
	p.UnregisterMediaPort()
}

// Format реализует bridge.Port
func (fp *filePort) Format() media.Format {
	return fp.format
}

// GetFrame реализует bridge.Source
func (fp *filePort) GetFrame(f media.Frame) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	if !fp.state.Is(statePlaying) {
		f.Silence()
		return nil
	}

	n := copy(f, fp.clips[fp.current].samples[fp.pos:])
	fp.pos += n
	for n < len(f) && fp.current < len(fp.clips)-1 {
		fp.current++
		fp.pos = copy(f[n:], fp.clips[fp.current].samples)
		n += fp.pos
	}
	for i := n; i < len(f); i++ {
		f[i] = 0
	}

	last := fp.current == len(fp.clips)-1
	if last && fp.pos == len(fp.clips[fp.current].samples) {
		if err := fp.state.Event(context.Background(), "eof"); err == nil {
			go fp.owner.handleEOF()
		}
	}
	return nil
}

// handleEOF вызывает обработчик конца файла и решает судьбу воспроизведения
func (p *Player) handleEOF() {
	fp := p.port

	fp.mu.Lock()
	fn := fp.onEOF
	fp.mu.Unlock()

	cont := fp.loop
	if fn != nil && !fn() {
		cont = false
	}

	fp.mu.Lock()
	defer fp.mu.Unlock()

	// SetPos или Close могли изменить состояние, пока работал обработчик
	if !fp.state.Is(stateEOF) {
		return
	}
	if cont {
		fp.current = 0
		fp.pos = 0
		_ = fp.state.Event(context.Background(), "resume")
		return
	}
	_ = fp.state.Event(context.Background(), "stop")
	fp.logger.V(1).Info("воспроизведение остановлено", "clips", len(fp.clips))
}
