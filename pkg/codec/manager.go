package codec

import (
	"sort"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"github.com/gobwas/glob"

	"github.com/arzzra/confbridge/pkg/logging"
	"github.com/arzzra/confbridge/pkg/media"
)

// Config - конфигурация менеджера кодеков
type Config struct {
	// TelephoneEventPT - payload type telephone-event в SDP, 0 - не объявлять
	TelephoneEventPT uint8 `yaml:"telephone_event_pt"`
	// Priorities переопределяет приоритеты по умолчанию (шаблон -> приоритет)
	Priorities map[string]uint8 `yaml:"priorities"`

	Logger logr.Logger `yaml:"-"`
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{TelephoneEventPT: 101}
}

type codecEntry struct {
	id       string
	desc     string
	priority uint8
	param    Param
	// defaults хранит исходные параметры для SetParam(id, nil)
	defaults Param
}

// Manager - менеджер кодеков
type Manager struct {
	logger  logr.Logger
	eventPT uint8

	mu     sync.RWMutex
	codecs map[string]*codecEntry
}

func builtinCodecs() []*codecEntry {
	g711 := func(pt uint8, id media.FormatID) Param {
		return Param{
			Info: ParamInfo{
				ClockRate: 8000, ChannelCount: 1, AvgBps: 64000, MaxBps: 64000,
				MaxRxFrameSize: 80, FrameLen: 10, PCMBitsPerSample: 16, PT: pt, FormatID: id,
			},
			Setting: ParamSetting{FramesPerPacket: 2, PLC: true},
		}
	}
	l16 := func(rate int, pt uint8) Param {
		bps := uint32(rate * 16)
		return Param{
			Info: ParamInfo{
				ClockRate: rate, ChannelCount: 1, AvgBps: bps, MaxBps: bps,
				MaxRxFrameSize: rate / 100 * 2, FrameLen: 10, PCMBitsPerSample: 16, PT: pt, FormatID: media.FormatL16,
			},
			Setting: ParamSetting{FramesPerPacket: 2},
		}
	}
	return []*codecEntry{
		{id: "PCMU/8000/1", desc: "G.711 u-law", priority: 130, param: g711(0, media.FormatPCMU)},
		{id: "PCMA/8000/1", desc: "G.711 A-law", priority: 129, param: g711(8, media.FormatPCMA)},
		{id: "G722/16000/1", desc: "G.722", priority: 128, param: Param{
			Info: ParamInfo{
				ClockRate: 16000, ChannelCount: 1, AvgBps: 64000, MaxBps: 64000,
				MaxRxFrameSize: 80, FrameLen: 10, PCMBitsPerSample: 16, PT: 9,
			},
			Setting: ParamSetting{FramesPerPacket: 2, PLC: true},
		}},
		{id: "opus/48000/2", desc: "Opus", priority: 127, param: Param{
			Info: ParamInfo{
				ClockRate: 48000, ChannelCount: 2, AvgBps: 24000, MaxBps: 510000,
				MaxRxFrameSize: 1275, FrameLen: 20, PCMBitsPerSample: 16, PT: 98,
			},
			Setting: ParamSetting{
				FramesPerPacket: 1, PLC: true,
				DecFmtp: []Fmtp{{Name: "useinbandfec", Val: "1"}},
			},
		}},
		{id: "L16/16000/1", desc: "Linear PCM 16 kHz", priority: PriorityDisabled, param: l16(16000, 96)},
		{id: "L16/8000/1", desc: "Linear PCM 8 kHz", priority: PriorityDisabled, param: l16(8000, 97)},
	}
}

// NewManager создает менеджер со встроенным набором кодеков
func NewManager(config Config) (*Manager, error) {
	logger := config.Logger
	if logger.GetSink() == nil {
		logger = logging.NewLogger("codec")
	}
	m := &Manager{
		logger:  logger,
		eventPT: config.TelephoneEventPT,
		codecs:  make(map[string]*codecEntry),
	}
	for _, c := range builtinCodecs() {
		c.defaults = c.param.clone()
		m.codecs[c.id] = c
	}

	patterns := make([]string, 0, len(config.Priorities))
	for p := range config.Priorities {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)
	for _, p := range patterns {
		if _, err := m.SetPriority(p, config.Priorities[p]); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// EnumCodecs возвращает все кодеки, отсортированные по убыванию приоритета,
// при равном приоритете - по идентификатору. Выключенные кодеки (приоритет 0)
// идут последними.
func (m *Manager) EnumCodecs() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedLocked()
}

func (m *Manager) sortedLocked() []Info {
	out := make([]Info, 0, len(m.codecs))
	for _, c := range m.codecs {
		out = append(out, Info{ID: c.id, Priority: c.priority, Desc: c.desc})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// matcher строит функцию сравнения идентификаторов. Шаблон с glob
// символами сравнивается целиком, остальные - как префикс. Регистр не
// учитывается.
func matcher(pattern string) (func(string) bool, error) {
	p := strings.ToLower(pattern)
	if !strings.ContainsAny(p, "*?[{") {
		return func(id string) bool { return strings.HasPrefix(strings.ToLower(id), p) }, nil
	}
	g, err := glob.Compile(p)
	if err != nil {
		return nil, media.WrapMediaError(media.ErrorCodeInvalidState, "некорректный шаблон "+pattern, err)
	}
	return func(id string) bool { return g.Match(strings.ToLower(id)) }, nil
}

// SetPriority задает приоритет всем кодекам, подходящим под шаблон.
// Приоритет 0 выключает кодек. Возвращает число измененных кодеков;
// NotFound, если шаблону не соответствует ни один кодек.
func (m *Manager) SetPriority(pattern string, priority uint8) (int, error) {
	match, err := matcher(pattern)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.codecs {
		if match(c.id) {
			c.priority = priority
			n++
		}
	}
	if n == 0 {
		return 0, media.NewError(media.ErrorCodeNotFound, "кодек %q не найден", pattern)
	}
	m.logger.V(1).Info("приоритет кодеков изменен", "pattern", pattern, "priority", priority, "count", n)
	return n, nil
}

// findLocked ищет кодек по точному идентификатору или по уникальному префиксу
func (m *Manager) findLocked(id string) (*codecEntry, error) {
	if id == "" {
		return nil, media.NewError(media.ErrorCodeNotFound, "пустой идентификатор кодека")
	}
	if c, ok := m.codecs[id]; ok {
		return c, nil
	}
	match, _ := matcher(strings.NewReplacer("*", "", "?", "", "[", "", "{", "").Replace(id))
	var found *codecEntry
	for _, c := range m.codecs {
		if !match(c.id) {
			continue
		}
		if found != nil {
			return nil, media.NewError(media.ErrorCodeNotFound, "идентификатор %q неоднозначен", id)
		}
		found = c
	}
	if found == nil {
		return nil, media.NewError(media.ErrorCodeNotFound, "кодек %q не найден", id)
	}
	return found, nil
}

// Param возвращает параметры кодека
func (m *Manager) Param(id string) (Param, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, err := m.findLocked(id)
	if err != nil {
		return Param{}, err
	}
	return c.param.clone(), nil
}

// SetParam задает параметры кодека. nil восстанавливает параметры по умолчанию.
// Payload type и формат кодека изменить нельзя.
func (m *Manager) SetParam(id string, param *Param) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.findLocked(id)
	if err != nil {
		return err
	}
	if param == nil {
		c.param = c.defaults.clone()
		return nil
	}
	p := param.clone()
	p.Info.PT = c.defaults.Info.PT
	p.Info.FormatID = c.defaults.Info.FormatID
	if err := p.validate(); err != nil {
		return err
	}
	c.param = p
	m.logger.V(1).Info("параметры кодека изменены", "codec", c.id,
		"frames_per_packet", p.Setting.FramesPerPacket, "vad", p.Setting.VAD)
	return nil
}

// Encoder возвращает кодировщик кадров для кодека с текущими параметрами.
// Доступен для PCMU, PCMA и L16; для остальных - UnsupportedCapability.
func (m *Manager) Encoder(id string) (Codec, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, err := m.findLocked(id)
	if err != nil {
		return nil, err
	}
	return newCodec(c.id, c.param.clone())
}
