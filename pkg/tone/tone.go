// Package tone реализует генератор тонов - порт-источник конференц-моста,
// воспроизводящий последовательность одно- и двухчастотных тонов или
// цифр по карте цифр (по умолчанию DTMF).
package tone

import (
	"math"
	"sync"
	"unicode"

	"github.com/arzzra/confbridge/pkg/bridge"
	"github.com/arzzra/confbridge/pkg/media"
)

const (
	// DefaultVolume - амплитуда тона при Volume == 0
	DefaultVolume = 12288
	// MaxTones - максимальное число тонов в очереди генератора
	MaxTones = 32
)

// Desc описывает один тон
type Desc struct {
	Freq1   int `json:"freq1" yaml:"freq1"`       // Первая частота, Гц
	Freq2   int `json:"freq2" yaml:"freq2"`       // Вторая частота, Гц; 0 для одночастотного тона
	OnMsec  int `json:"on_msec" yaml:"on_msec"`   // Длительность звучания
	OffMsec int `json:"off_msec" yaml:"off_msec"` // Пауза после тона
	Volume  int `json:"volume" yaml:"volume"`     // Амплитуда; 0 - DefaultVolume
}

// Digit описывает цифру для PlayDigits
type Digit struct {
	Digit   rune `json:"digit"`
	OnMsec  int  `json:"on_msec"`
	OffMsec int  `json:"off_msec"`
	Volume  int  `json:"volume"`
}

// DigitMapEntry сопоставляет цифре пару частот
type DigitMapEntry struct {
	Digit rune `json:"digit"`
	Freq1 int  `json:"freq1"`
	Freq2 int  `json:"freq2"`
}

// DTMFDigitMap возвращает стандартную карту цифр DTMF
func DTMFDigitMap() []DigitMapEntry {
	return []DigitMapEntry{
		{'0', 941, 1336},
		{'1', 697, 1209},
		{'2', 697, 1336},
		{'3', 697, 1477},
		{'4', 770, 1209},
		{'5', 770, 1336},
		{'6', 770, 1477},
		{'7', 852, 1209},
		{'8', 852, 1336},
		{'9', 852, 1477},
		{'a', 697, 1633},
		{'b', 770, 1633},
		{'c', 852, 1633},
		{'d', 941, 1633},
		{'*', 941, 1209},
		{'#', 941, 1477},
	}
}

// Generator - генератор тонов. Встраивает bridge.AudioMedia.
type Generator struct {
	bridge.AudioMedia

	port *tonePort
}

// tone - запрограммированный тон в отсчетах
type tone struct {
	freq1, freq2 int
	onSamples    int
	offSamples   int
	volume       float64
}

type tonePort struct {
	owner  *Generator
	format media.Format

	mu       sync.Mutex
	tones    []tone
	current  int // индекс текущего тона
	elapsed  int // отсчетов одного канала в текущем тоне
	loop     bool
	digitMap []DigitMapEntry
}

// New создает генератор тонов и регистрирует его в мосте.
// Обычные значения: clockRate 16000, channels 1.
func New(b *bridge.Bridge, clockRate, channels int) (*Generator, error) {
	format := media.NewFormat(clockRate, channels, b.Format().FrameTime())
	if err := format.Validate(); err != nil {
		return nil, err
	}

	g := &Generator{}
	g.port = &tonePort{
		owner:    g,
		format:   format,
		digitMap: DTMFDigitMap(),
	}
	if err := g.RegisterMediaPort(b, g.port, bridge.KindToneGenerator, ""); err != nil {
		return nil, err
	}
	return g, nil
}

// FromAudioMedia возвращает генератор, встраивающий am, или nil
func FromAudioMedia(am *bridge.AudioMedia) *Generator {
	if am == nil || am.Kind() != bridge.KindToneGenerator {
		return nil
	}
	tp, ok := am.Port().(*tonePort)
	if !ok {
		return nil
	}
	return tp.owner
}

// Play добавляет тоны в очередь воспроизведения. Воспроизведение
// начинается, когда генератор подключен к приемнику.
func (g *Generator) Play(tones []Desc, loop bool) error {
	tp := g.port
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if len(tp.tones)+len(tones) > MaxTones {
		return media.NewError(media.ErrorCodeResourceExhausted, "превышено число тонов (%d)", MaxTones)
	}
	for _, d := range tones {
		if d.Freq1 <= 0 || d.OnMsec < 0 || d.OffMsec < 0 || d.Freq2 < 0 || d.Volume < 0 {
			return media.NewError(media.ErrorCodeInvalidState, "некорректное описание тона %+v", d)
		}
	}
	for _, d := range tones {
		tp.tones = append(tp.tones, tp.program(d))
	}
	tp.loop = loop
	return nil
}

// PlayDigits добавляет цифры в очередь воспроизведения. Каждая цифра
// должна присутствовать в карте цифр, иначе возвращается NotFound и
// очередь не изменяется.
func (g *Generator) PlayDigits(digits []Digit, loop bool) error {
	tp := g.port
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if len(tp.tones)+len(digits) > MaxTones {
		return media.NewError(media.ErrorCodeResourceExhausted, "превышено число тонов (%d)", MaxTones)
	}

	programmed := make([]tone, 0, len(digits))
	for _, d := range digits {
		entry, ok := tp.lookup(d.Digit)
		if !ok {
			return media.NewError(media.ErrorCodeNotFound, "цифра %q отсутствует в карте цифр", d.Digit)
		}
		programmed = append(programmed, tp.program(Desc{
			Freq1:   entry.Freq1,
			Freq2:   entry.Freq2,
			OnMsec:  d.OnMsec,
			OffMsec: d.OffMsec,
			Volume:  d.Volume,
		}))
	}
	tp.tones = append(tp.tones, programmed...)
	tp.loop = loop
	return nil
}

// PlayString воспроизводит строку цифр с одинаковой длительностью
func (g *Generator) PlayString(digits string, onMsec, offMsec int) error {
	list := make([]Digit, 0, len(digits))
	for _, r := range digits {
		list = append(list, Digit{Digit: r, OnMsec: onMsec, OffMsec: offMsec})
	}
	return g.PlayDigits(list, false)
}

// IsBusy возвращает true, пока не воспроизведены все запрограммированные
// отсчеты. Генератор с повтором занят до Stop.
func (g *Generator) IsBusy() bool {
	tp := g.port
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return len(tp.tones) > 0 && (tp.loop || tp.current < len(tp.tones))
}

// advanceLocked обрабатывает конец очереди: с повтором очередь
// начинается заново, без повтора очищается.
func (tp *tonePort) advanceLocked() {
	if tp.current < len(tp.tones) {
		return
	}
	tp.current = 0
	tp.elapsed = 0
	if !tp.loop {
		tp.tones = tp.tones[:0]
	}
}

// Stop очищает очередь тонов
func (g *Generator) Stop() {
	tp := g.port
	tp.mu.Lock()
	defer tp.mu.Unlock()
	tp.tones = nil
	tp.current = 0
	tp.elapsed = 0
	tp.loop = false
}

// Rewind начинает воспроизведение с первого тона очереди.
// Очередь, воспроизведенная до конца без повтора, уже пуста.
func (g *Generator) Rewind() {
	tp := g.port
	tp.mu.Lock()
	defer tp.mu.Unlock()
	tp.current = 0
	tp.elapsed = 0
}

// DigitMap возвращает копию текущей карты цифр
func (g *Generator) DigitMap() []DigitMapEntry {
	tp := g.port
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return append([]DigitMapEntry(nil), tp.digitMap...)
}

// SetDigitMap заменяет карту цифр
func (g *Generator) SetDigitMap(digitMap []DigitMapEntry) error {
	for _, e := range digitMap {
		if e.Freq1 <= 0 || e.Freq2 < 0 {
			return media.NewError(media.ErrorCodeInvalidState, "некорректные частоты цифры %q", e.Digit)
		}
	}
	tp := g.port
	tp.mu.Lock()
	defer tp.mu.Unlock()
	tp.digitMap = append([]DigitMapEntry(nil), digitMap...)
	return nil
}

// Close снимает генератор с регистрации
func (g *Generator) Close() {
	g.UnregisterMediaPort()
}

func (tp *tonePort) program(d Desc) tone {
	volume := d.Volume
	if volume == 0 {
		volume = DefaultVolume
	}
	return tone{
		freq1:      d.Freq1,
		freq2:      d.Freq2,
		onSamples:  d.OnMsec * tp.format.ClockRate / 1000,
		offSamples: d.OffMsec * tp.format.ClockRate / 1000,
		volume:     float64(volume),
	}
}

func (tp *tonePort) lookup(digit rune) (DigitMapEntry, bool) {
	want := unicode.ToLower(digit)
	for _, e := range tp.digitMap {
		if unicode.ToLower(e.Digit) == want {
			return e, true
		}
	}
	return DigitMapEntry{}, false
}

// Format реализует bridge.Port
func (tp *tonePort) Format() media.Format {
	return tp.format
}

// GetFrame реализует bridge.Source
func (tp *tonePort) GetFrame(f media.Frame) error {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	channels := tp.format.ChannelCount
	rate := float64(tp.format.ClockRate)
	frames := len(f) / channels

	for i := 0; i < frames; i++ {
		var v int16
		if tp.current < len(tp.tones) {
			t := &tp.tones[tp.current]
			if tp.elapsed < t.onSamples {
				phase := 2 * math.Pi * float64(tp.elapsed) / rate
				s := math.Sin(phase * float64(t.freq1))
				if t.freq2 > 0 {
					s = (s + math.Sin(phase*float64(t.freq2))) / 2
				}
				v = media.Clamp16(float32(s * t.volume))
			}
			tp.elapsed++
			if tp.elapsed >= t.onSamples+t.offSamples {
				tp.current++
				tp.elapsed = 0
				tp.advanceLocked()
			}
		}

		for ch := 0; ch < channels; ch++ {
			f[i*channels+ch] = v
		}
	}
	return nil
}
