// Package stream содержит порт RTP потока конференц-моста.
//
// Порт представляет аудио звонка в мосте. Кадры, переданные порту мостом,
// кодируются согласованным кодеком и отправляются пакетами pion/rtp в
// PacketWriter. Входящие пакеты передаются в порт вызовом WriteRTP,
// декодируются и выдаются мосту как кадры источника. Сетевой транспорт
// и jitter buffer в пакет не входят.
package stream

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"

	"github.com/arzzra/confbridge/pkg/bridge"
	"github.com/arzzra/confbridge/pkg/codec"
	"github.com/arzzra/confbridge/pkg/logging"
	"github.com/arzzra/confbridge/pkg/media"
)

// PacketWriter принимает исходящие RTP пакеты порта.
// Вызывается из отдельной горутины отправки, не из такта моста.
type PacketWriter interface {
	WritePacket(pkt *rtp.Packet) error
}

// PacketWriterFunc адаптирует функцию к PacketWriter
type PacketWriterFunc func(pkt *rtp.Packet) error

// WritePacket реализует PacketWriter
func (f PacketWriterFunc) WritePacket(pkt *rtp.Packet) error { return f(pkt) }

// Config - конфигурация порта потока
type Config struct {
	// Name - имя порта в мосте
	Name string
	// SSRC источника; 0 - случайный
	SSRC uint32
	// Начальные номер последовательности и метка времени; 0 - случайные
	InitialSequenceNumber uint16
	InitialTimestamp      uint32
	// RxQueuePackets - емкость очереди принятого звука в пакетах.
	// При переполнении отбрасываются самые старые отсчеты.
	RxQueuePackets int
	// TxQueuePackets - емкость очереди отправки
	TxQueuePackets int
	// EventPT - payload type telephone-event; 0 - DTMF по RFC 4733 выключен
	EventPT uint8
	// OnDTMF вызывается в горутине WriteRTP при начале принятого события
	OnDTMF func(DTMFEvent)

	Logger logr.Logger
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		RxQueuePackets: 8,
		TxQueuePackets: 32,
	}
}

// Stats - счетчики порта
type Stats struct {
	PacketsSent     uint64 `json:"packets_sent"`
	PacketsReceived uint64 `json:"packets_received"`
	// TxDropped - пакеты, отброшенные при переполнении очереди отправки
	TxDropped uint64 `json:"tx_dropped"`
	// RxDroppedSamples - отсчеты, вытесненные из очереди приема
	RxDroppedSamples uint64 `json:"rx_dropped_samples"`
	Underruns        uint64 `json:"underruns"`
	SendErrors       uint64 `json:"send_errors"`
	DTMFReceived     uint64 `json:"dtmf_received"`
}

// Port - порт RTP потока
type Port struct {
	bridge.AudioMedia

	port *rtpPort
}

type rtpPort struct {
	owner   *Port
	format  media.Format
	codec   codec.Codec
	pt      uint8
	ssrc    uint32
	logger  logr.Logger
	writer  PacketWriter
	samples int // отсчетов в пакете
	step    uint32
	eventPT uint8
	onDTMF  func(DTMFEvent)

	mu       sync.Mutex
	closed   bool
	seq      uint16
	ts       uint32
	marker   bool
	pending  media.Frame
	rx       media.Frame
	rxMax    int
	started  bool
	lastSeq  uint16
	haveLast bool

	eventActive bool
	eventTS     uint32

	out  chan *rtp.Packet
	done chan struct{}

	sent, received, txDropped, rxDropped, underruns, sendErrors, events atomic.Uint64
}

func randomUint32() uint32 {
	var v uint32
	_ = binary.Read(rand.Reader, binary.BigEndian, &v)
	return v
}

// New создает порт потока для кодека id с согласованными параметрами
// и регистрирует его в мосте.
func New(b *bridge.Bridge, id string, param codec.Param, w PacketWriter, config Config) (*Port, error) {
	if w == nil {
		return nil, media.NewError(media.ErrorCodeInvalidState, "PacketWriter не задан")
	}
	c, err := codec.NewCodec(id, param)
	if err != nil {
		return nil, err
	}
	def := DefaultConfig()
	if config.RxQueuePackets <= 0 {
		config.RxQueuePackets = def.RxQueuePackets
	}
	if config.TxQueuePackets <= 0 {
		config.TxQueuePackets = def.TxQueuePackets
	}
	logger := config.Logger
	if logger.GetSink() == nil {
		logger = logging.NewLogger("stream")
	}

	format := param.PCMFormat()
	ssrc := config.SSRC
	if ssrc == 0 {
		ssrc = randomUint32()
	}
	seq := config.InitialSequenceNumber
	if seq == 0 {
		seq = uint16(randomUint32())
	}
	ts := config.InitialTimestamp
	if ts == 0 {
		ts = randomUint32()
	}

	p := &Port{}
	p.port = &rtpPort{
		owner:   p,
		format:  format,
		codec:   c,
		pt:      param.Info.PT,
		ssrc:    ssrc,
		logger:  logger.WithValues("codec", id, "ssrc", ssrc),
		writer:  w,
		samples: format.SamplesPerFrame(),
		step:    uint32(format.SamplesPerChannel()),
		eventPT: config.EventPT,
		onDTMF:  config.OnDTMF,
		seq:     seq,
		ts:      ts,
		marker:  true,
		rxMax:   config.RxQueuePackets * format.SamplesPerFrame(),
		out:     make(chan *rtp.Packet, config.TxQueuePackets),
		done:    make(chan struct{}),
	}

	if err := p.RegisterMediaPort(b, p.port, bridge.KindStream, config.Name); err != nil {
		return nil, err
	}
	go p.port.sendLoop()

	p.port.logger.V(1).Info("порт потока создан", "port_id", p.PortID(), "pt", param.Info.PT,
		"ptime", param.Ptime().String())
	return p, nil
}

// NewNegotiated выбирает кодек по SDP удаленной стороны через менеджер
// кодеков и создает порт потока. Если EventPT не задан, используется
// telephone-event удаленной стороны.
func NewNegotiated(b *bridge.Bridge, codecs *codec.Manager, remote *sdp.MediaDescription, w PacketWriter, config Config) (*Port, error) {
	id, param, err := codecs.Negotiate(remote)
	if err != nil {
		return nil, err
	}
	if config.EventPT == 0 {
		config.EventPT, _ = codec.RemoteEventPT(remote)
	}
	return New(b, id, param, w, config)
}

// FromAudioMedia возвращает порт потока для медиа или nil
func FromAudioMedia(am *bridge.AudioMedia) *Port {
	if am == nil || am.Kind() != bridge.KindStream {
		return nil
	}
	rp, ok := am.Port().(*rtpPort)
	if !ok {
		return nil
	}
	return rp.owner
}

// Codec возвращает идентификатор кодека
func (p *Port) Codec() string {
	return p.port.codec.ID()
}

// SSRC возвращает SSRC исходящего потока
func (p *Port) SSRC() uint32 {
	return p.port.ssrc
}

// Stats возвращает счетчики порта
func (p *Port) Stats() Stats {
	rp := p.port
	return Stats{
		PacketsSent:      rp.sent.Load(),
		PacketsReceived:  rp.received.Load(),
		TxDropped:        rp.txDropped.Load(),
		RxDroppedSamples: rp.rxDropped.Load(),
		Underruns:        rp.underruns.Load(),
		SendErrors:       rp.sendErrors.Load(),
		DTMFReceived:     rp.events.Load(),
	}
}

// WriteRTP передает порту принятый RTP пакет
func (p *Port) WriteRTP(pkt *rtp.Packet) error {
	if pkt == nil {
		return media.NewError(media.ErrorCodeInvalidState, "пакет не задан")
	}
	rp := p.port
	if rp.eventPT != 0 && pkt.PayloadType == rp.eventPT {
		return rp.writeEvent(pkt)
	}
	if pkt.PayloadType != rp.pt {
		return media.NewError(media.ErrorCodeInvalidState, "неожиданный payload type %d, ожидается %d", pkt.PayloadType, rp.pt)
	}
	frame, err := rp.codec.Decode(pkt.Payload)
	if err != nil {
		return err
	}

	rp.mu.Lock()
	defer rp.mu.Unlock()
	if rp.closed {
		return media.NewError(media.ErrorCodeInvalidState, "порт потока закрыт")
	}
	if rp.haveLast && pkt.SequenceNumber == rp.lastSeq {
		return nil
	}
	rp.lastSeq, rp.haveLast = pkt.SequenceNumber, true
	rp.received.Add(1)
	rp.started = true

	rp.rx = append(rp.rx, frame...)
	if over := len(rp.rx) - rp.rxMax; over > 0 {
		rp.rx = rp.rx[:copy(rp.rx, rp.rx[over:])]
		rp.rxDropped.Add(uint64(over))
	}
	return nil
}

func (rp *rtpPort) writeEvent(pkt *rtp.Packet) error {
	rp.mu.Lock()
	if rp.closed {
		rp.mu.Unlock()
		return media.NewError(media.ErrorCodeInvalidState, "порт потока закрыт")
	}
	ev, err := rp.receiveEventLocked(pkt)
	rp.mu.Unlock()
	if err != nil {
		return err
	}
	if ev != nil {
		rp.logger.V(1).Info("DTMF принят", "digit", ev.Digit.String())
		if rp.onDTMF != nil {
			rp.onDTMF(*ev)
		}
	}
	return nil
}

// Close снимает порт с регистрации и дожидается отправки очереди
func (p *Port) Close() error {
	p.UnregisterMediaPort()

	rp := p.port
	rp.mu.Lock()
	if rp.closed {
		rp.mu.Unlock()
		return nil
	}
	rp.closed = true
	close(rp.out)
	rp.mu.Unlock()

	<-rp.done
	rp.logger.V(1).Info("порт потока закрыт", "sent", rp.sent.Load(), "received", rp.received.Load())
	return nil
}

// Format реализует bridge.Port
func (rp *rtpPort) Format() media.Format {
	return rp.format
}

// GetFrame реализует bridge.Source: принятый звук или тишина
func (rp *rtpPort) GetFrame(f media.Frame) error {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	n := copy(f, rp.rx)
	for i := n; i < len(f); i++ {
		f[i] = 0
	}
	rp.rx = rp.rx[:copy(rp.rx, rp.rx[n:])]
	if n < len(f) && rp.started {
		rp.underruns.Add(1)
	}
	return nil
}

// PutFrame реализует bridge.Sink: кодирует кадр и ставит пакеты в очередь
// отправки. Кадры накапливаются до длительности пакета кодека.
func (rp *rtpPort) PutFrame(f media.Frame) error {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	if rp.closed {
		return media.NewError(media.ErrorCodeInvalidState, "порт потока закрыт")
	}

	rp.pending = append(rp.pending, f...)
	for len(rp.pending) >= rp.samples {
		payload, err := rp.codec.Encode(rp.pending[:rp.samples])
		rp.pending = rp.pending[:copy(rp.pending, rp.pending[rp.samples:])]
		if err != nil {
			return err
		}

		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         rp.marker,
				PayloadType:    rp.pt,
				SequenceNumber: rp.seq,
				Timestamp:      rp.ts,
				SSRC:           rp.ssrc,
			},
			Payload: payload,
		}
		rp.marker = false
		rp.seq++
		rp.ts += rp.step
		rp.enqueueLocked(pkt)
	}
	return nil
}

func (rp *rtpPort) enqueueLocked(pkt *rtp.Packet) {
	select {
	case rp.out <- pkt:
	default:
		rp.txDropped.Add(1)
	}
}

func (rp *rtpPort) sendLoop() {
	defer close(rp.done)
	for pkt := range rp.out {
		if err := rp.writer.WritePacket(pkt); err != nil {
			rp.sendErrors.Add(1)
			rp.logger.V(1).Info("ошибка отправки RTP пакета", "seq", pkt.SequenceNumber, "error", err.Error())
			continue
		}
		rp.sent.Add(1)
	}
}
