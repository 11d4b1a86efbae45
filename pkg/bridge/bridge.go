package bridge

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/arzzra/confbridge/pkg/logging"
	"github.com/arzzra/confbridge/pkg/media"
)

// Bridge - аудио конференц-мост.
//
// Хранит реестр портов и граф передачи между ними. Каждый такт (Tick)
// опрашивает источники, смешивает их сигналы для каждого приемника
// и передает результат приемникам.
type Bridge struct {
	config  Config
	format  media.Format
	logger  logr.Logger
	metrics *bridgeMetrics

	// mu защищает реестр и ребра; изменения публикуются в snapshot
	mu     sync.Mutex
	closed bool
	slots  *slotPool
	ports  map[int]*portEntry
	edges  map[int]map[int]struct{} // источник -> приемники

	snapshot atomic.Pointer[graph]

	// tickMu сериализует такты
	tickMu sync.Mutex
	frames atomic.Uint64
}

// portEntry - зарегистрированный порт
type portEntry struct {
	id     int
	name   string
	kind   Kind
	port   Port
	owner  *AudioMedia
	source Source
	sink   Sink
	format media.Format

	txAdj   atomic.Uint32 // float32 bits
	rxAdj   atomic.Uint32
	txLevel atomic.Uint32
	rxLevel atomic.Uint32

	// Буферы такта, используются только под tickMu
	getBuf  media.Frame // кадр источника в формате порта
	putBuf  media.Frame // кадр приемника в формате порта
	out     media.Frame // сигнал источника в формате моста после txAdj
	mix     media.Frame // смешанный сигнал приемника в формате моста
	acc     *media.Accumulator
	inConv  *media.Converter // порт -> мост
	outConv *media.Converter // мост -> порт
}

func (e *portEntry) txGain() float32 { return math.Float32frombits(e.txAdj.Load()) }
func (e *portEntry) rxGain() float32 { return math.Float32frombits(e.rxAdj.Load()) }

// New создает конференц-мост с указанной конфигурацией
func New(config Config) (*Bridge, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger.GetSink() == nil {
		logger = logging.NewLogger("bridge")
	}

	b := &Bridge{
		config: config,
		format: config.Format(),
		logger: logger,
		slots:  newSlotPool(config.MaxPorts),
		ports:  make(map[int]*portEntry),
		edges:  make(map[int]map[int]struct{}),
	}
	if config.EnableMetrics {
		b.metrics = newBridgeMetrics(config)
	}
	b.snapshot.Store(&graph{})

	b.logger.Info("конференц-мост создан", "format", b.format.String(), "max_ports", config.MaxPorts)
	return b, nil
}

// Format возвращает формат моста
func (b *Bridge) Format() media.Format {
	return b.format
}

// Config возвращает конфигурацию моста
func (b *Bridge) Config() Config {
	return b.config
}

// Register регистрирует порт и возвращает его ID.
// Пустое имя заменяется сгенерированным.
func (b *Bridge) Register(port Port, kind Kind, name string) (int, error) {
	return (&AudioMedia{}).register(b, port, kind, name)
}

func (b *Bridge) register(port Port, kind Kind, name string, owner *AudioMedia) (int, error) {
	if port == nil {
		return InvalidPortID, media.NewError(media.ErrorCodeInvalidState, "порт не задан")
	}

	format := port.Format().WithFrameTime(b.config.FrameTime)
	if format.BitsPerSample != 16 {
		return InvalidPortID, media.NewError(media.ErrorCodeUnsupportedCapability,
			"поддерживаются только 16-битные порты, получено %d бит", format.BitsPerSample)
	}
	if err := format.Validate(); err != nil {
		return InvalidPortID, err
	}

	source, _ := port.(Source)
	sink, _ := port.(Sink)
	if source == nil && sink == nil {
		return InvalidPortID, media.NewError(media.ErrorCodeInvalidState, "порт не является ни источником, ни приемником")
	}

	if name == "" {
		name = kind.String() + "-" + uuid.NewString()[:8]
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return InvalidPortID, media.NewError(media.ErrorCodeInvalidState, "мост закрыт")
	}

	id, err := b.slots.allocate()
	if err != nil {
		return InvalidPortID, err
	}

	e := &portEntry{
		id:     id,
		name:   name,
		kind:   kind,
		port:   port,
		owner:  owner,
		source: source,
		sink:   sink,
		format: format,
		out:    media.NewFrame(b.format.SamplesPerFrame()),
		mix:    media.NewFrame(b.format.SamplesPerFrame()),
		acc:    media.NewAccumulator(b.format.SamplesPerFrame()),
	}
	e.txAdj.Store(math.Float32bits(1))
	e.rxAdj.Store(math.Float32bits(1))
	if media.NeedsConversion(format, b.format) {
		e.inConv = media.NewConverter(format, b.format)
		e.outConv = media.NewConverter(b.format, format)
		e.getBuf = media.NewFrame(format.SamplesPerFrame())
		e.putBuf = media.NewFrame(format.SamplesPerFrame())
	}

	b.ports[id] = e
	b.publishLocked()

	b.logger.V(1).Info("порт зарегистрирован", "port_id", id, "name", name, "kind", kind.String(),
		"format", format.String())
	return id, nil
}

// Unregister снимает порт с регистрации. Все ребра, связанные с портом,
// удаляются до того, как ID может быть выдан повторно.
func (b *Bridge) Unregister(id int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unregisterLocked(id)
}

func (b *Bridge) unregisterLocked(id int) error {
	e, ok := b.ports[id]
	if !ok {
		return media.NewPortError(media.ErrorCodeNotFound, id, "порт не зарегистрирован")
	}

	delete(b.edges, id)
	for src, sinks := range b.edges {
		delete(sinks, id)
		if len(sinks) == 0 {
			delete(b.edges, src)
		}
	}
	delete(b.ports, id)
	b.publishLocked()

	if err := b.slots.release(id); err != nil {
		return err
	}

	b.logger.V(1).Info("порт снят с регистрации", "port_id", id, "name", e.name)
	return nil
}

// owns проверяет, что ID занят портом с дескриптором m
func (b *Bridge) owns(id int, m *AudioMedia) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.ports[id]
	return ok && e.owner == m
}

func (b *Bridge) entryLocked(id int) (*portEntry, error) {
	e, ok := b.ports[id]
	if !ok {
		return nil, media.NewPortError(media.ErrorCodeInvalidPort, id, "порт не зарегистрирован")
	}
	return e, nil
}

func (b *Bridge) entry(id int) (*portEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entryLocked(id)
}

// Connect создает ребро передачи src -> sink. Операция идемпотентна,
// петля (src == sink) допустима и дает задержку в один кадр.
func (b *Bridge) Connect(src, sink int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	se, err := b.entryLocked(src)
	if err != nil {
		return err
	}
	de, err := b.entryLocked(sink)
	if err != nil {
		return err
	}
	if se.source == nil {
		return media.NewPortError(media.ErrorCodeInvalidState, src, "порт %q не может быть источником", se.name)
	}
	if de.sink == nil {
		return media.NewPortError(media.ErrorCodeInvalidState, sink, "порт %q не может быть приемником", de.name)
	}

	sinks, ok := b.edges[src]
	if !ok {
		sinks = make(map[int]struct{})
		b.edges[src] = sinks
	}
	if _, exists := sinks[sink]; exists {
		return nil
	}
	sinks[sink] = struct{}{}
	b.publishLocked()

	b.logger.V(1).Info("передача начата", "source", src, "sink", sink)
	return nil
}

// Disconnect удаляет ребро src -> sink. Отсутствие ребра не является ошибкой.
func (b *Bridge) Disconnect(src, sink int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.entryLocked(src); err != nil {
		return err
	}
	if _, err := b.entryLocked(sink); err != nil {
		return err
	}

	sinks, ok := b.edges[src]
	if !ok {
		return nil
	}
	if _, exists := sinks[sink]; !exists {
		return nil
	}
	delete(sinks, sink)
	if len(sinks) == 0 {
		delete(b.edges, src)
	}
	b.publishLocked()

	b.logger.V(1).Info("передача остановлена", "source", src, "sink", sink)
	return nil
}

func validLevel(level float32) bool {
	return level >= 0 && !math.IsInf(float64(level), 1)
}

// AdjustTxLevel задает коэффициент передаваемого портом сигнала.
// 1.0 - без изменений, 0 - тишина.
func (b *Bridge) AdjustTxLevel(id int, level float32) error {
	if !validLevel(level) {
		return media.NewPortError(media.ErrorCodeInvalidState, id, "некорректный уровень %v", level)
	}
	e, err := b.entry(id)
	if err != nil {
		return err
	}
	e.txAdj.Store(math.Float32bits(level))
	return nil
}

// AdjustRxLevel задает коэффициент принимаемого портом сигнала
func (b *Bridge) AdjustRxLevel(id int, level float32) error {
	if !validLevel(level) {
		return media.NewPortError(media.ErrorCodeInvalidState, id, "некорректный уровень %v", level)
	}
	e, err := b.entry(id)
	if err != nil {
		return err
	}
	e.rxAdj.Store(math.Float32bits(level))
	return nil
}

// TxLevel возвращает уровень сигнала, переданного портом в последнем такте
func (b *Bridge) TxLevel(id int) (uint, error) {
	e, err := b.entry(id)
	if err != nil {
		return 0, err
	}
	return uint(e.txLevel.Load()), nil
}

// RxLevel возвращает уровень сигнала, принятого портом в последнем такте
func (b *Bridge) RxLevel(id int) (uint, error) {
	e, err := b.entry(id)
	if err != nil {
		return 0, err
	}
	return uint(e.rxLevel.Load()), nil
}

// PortInfo возвращает снимок состояния порта
func (b *Bridge) PortInfo(id int) (PortInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, err := b.entryLocked(id)
	if err != nil {
		return PortInfo{}, err
	}

	info := PortInfo{
		PortID:       e.id,
		Name:         e.name,
		Kind:         e.kind,
		Format:       e.format,
		TxLevelAdj:   e.txGain(),
		RxLevelAdj:   e.rxGain(),
		Listeners:    []int{},
		Transmitters: []int{},
	}
	for sink := range b.edges[id] {
		info.Listeners = append(info.Listeners, sink)
	}
	for src, sinks := range b.edges {
		if _, ok := sinks[id]; ok {
			info.Transmitters = append(info.Transmitters, src)
		}
	}
	sort.Ints(info.Listeners)
	sort.Ints(info.Transmitters)
	return info, nil
}

// Ports возвращает отсортированный список ID зарегистрированных портов
func (b *Bridge) Ports() []int {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := make([]int, 0, len(b.ports))
	for id := range b.ports {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Medias возвращает дескрипторы зарегистрированных портов в порядке ID
func (b *Bridge) Medias() []*AudioMedia {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := make([]int, 0, len(b.ports))
	for id := range b.ports {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	medias := make([]*AudioMedia, 0, len(ids))
	for _, id := range ids {
		medias = append(medias, b.ports[id].owner)
	}
	return medias
}

// PortCount возвращает число зарегистрированных портов
func (b *Bridge) PortCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.slots.inUse()
}

// FrameCount возвращает число выполненных тактов
func (b *Bridge) FrameCount() uint64 {
	return b.frames.Load()
}

// Close снимает с регистрации все порты. После закрытия Register
// возвращает InvalidState.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for id := range b.ports {
		if err := b.unregisterLocked(id); err != nil {
			b.logger.Error(err, "ошибка снятия порта с регистрации", "port_id", id)
		}
	}
	b.logger.Info("конференц-мост закрыт", "frames", b.frames.Load())
	return nil
}
