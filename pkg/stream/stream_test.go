package stream

import (
	"errors"
	"sync"
	"testing"

	"github.com/go-logr/logr"
	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/confbridge/pkg/bridge"
	"github.com/arzzra/confbridge/pkg/codec"
	"github.com/arzzra/confbridge/pkg/media"
)

type constSource struct {
	format media.Format
	value  int16
}

func (s *constSource) Format() media.Format { return s.format }

func (s *constSource) GetFrame(f media.Frame) error {
	for i := range f {
		f[i] = s.value
	}
	return nil
}

type captureSink struct {
	format media.Format
	last   media.Frame
}

func (s *captureSink) Format() media.Format { return s.format }

func (s *captureSink) PutFrame(f media.Frame) error {
	s.last = f.Clone()
	return nil
}

type packetLog struct {
	mu      sync.Mutex
	packets []*rtp.Packet
}

func (l *packetLog) WritePacket(pkt *rtp.Packet) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.packets = append(l.packets, pkt)
	return nil
}

func newTestBridge(t *testing.T) *bridge.Bridge {
	t.Helper()
	cfg := bridge.DefaultConfig()
	cfg.Logger = logr.Discard()
	b, err := bridge.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func codecParam(t *testing.T, id string) codec.Param {
	t.Helper()
	cfg := codec.DefaultConfig()
	cfg.Logger = logr.Discard()
	m, err := codec.NewManager(cfg)
	require.NoError(t, err)
	p, err := m.Param(id)
	require.NoError(t, err)
	return p
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SSRC = 0x1234
	cfg.InitialSequenceNumber = 100
	cfg.InitialTimestamp = 1000
	cfg.Logger = logr.Discard()
	return cfg
}

func l16Frame(t *testing.T, n int, v int16) []byte {
	t.Helper()
	c, err := codec.NewCodec("L16/16000/1", codecParam(t, "L16/16000/1"))
	require.NoError(t, err)
	f := media.NewFrame(n)
	for i := range f {
		f[i] = v
	}
	payload, err := c.Encode(f)
	require.NoError(t, err)
	return payload
}

func TestOutgoingPackets(t *testing.T) {
	b := newTestBridge(t)
	log := &packetLog{}
	p, err := New(b, "PCMU/8000/1", codecParam(t, "PCMU/8000/1"), log, testConfig())
	require.NoError(t, err)
	assert.Equal(t, "PCMU/8000/1", p.Codec())
	assert.Equal(t, uint32(0x1234), p.SSRC())

	src, err := b.Register(&constSource{format: b.Format(), value: 1000}, bridge.KindGeneric, "src")
	require.NoError(t, err)
	require.NoError(t, b.Connect(src, p.PortID()))

	for i := 0; i < 3; i++ {
		b.Tick()
	}
	require.NoError(t, p.Close())

	log.mu.Lock()
	defer log.mu.Unlock()
	require.Len(t, log.packets, 3)
	for i, pkt := range log.packets {
		assert.Equal(t, uint8(2), pkt.Version)
		assert.Equal(t, uint8(0), pkt.PayloadType)
		assert.Equal(t, uint32(0x1234), pkt.SSRC)
		assert.Equal(t, uint16(100+i), pkt.SequenceNumber)
		assert.Equal(t, uint32(1000+160*i), pkt.Timestamp)
		assert.Equal(t, i == 0, pkt.Marker, "маркер только в первом пакете")
		require.Len(t, pkt.Payload, 160)
	}

	decoded := media.DecodeUlaw(log.packets[2].Payload)
	assert.InDelta(t, 1000, decoded[80], 64)

	raw, err := log.packets[0].Marshal()
	require.NoError(t, err)
	var parsed rtp.Packet
	require.NoError(t, parsed.Unmarshal(raw))
	assert.Equal(t, log.packets[0].SequenceNumber, parsed.SequenceNumber)

	assert.Equal(t, uint64(3), p.Stats().PacketsSent)
}

func TestPacketization(t *testing.T) {
	b := newTestBridge(t)
	param := codecParam(t, "L16/16000/1")
	param.Setting.FramesPerPacket = 4 // 40 мс при кадре моста 20 мс
	log := &packetLog{}
	p, err := New(b, "L16/16000/1", param, log, testConfig())
	require.NoError(t, err)

	src, err := b.Register(&constSource{format: b.Format(), value: 5}, bridge.KindGeneric, "src")
	require.NoError(t, err)
	require.NoError(t, b.Connect(src, p.PortID()))

	for i := 0; i < 5; i++ {
		b.Tick()
	}
	require.NoError(t, p.Close())

	log.mu.Lock()
	defer log.mu.Unlock()
	require.Len(t, log.packets, 2)
	assert.Len(t, log.packets[0].Payload, 2*640)
	assert.Equal(t, uint32(1000+640), log.packets[1].Timestamp)
}

func TestIncomingPackets(t *testing.T) {
	b := newTestBridge(t)
	cfg := testConfig()
	cfg.RxQueuePackets = 2
	p, err := New(b, "L16/16000/1", codecParam(t, "L16/16000/1"), &packetLog{}, cfg)
	require.NoError(t, err)
	defer p.Close()

	sink := &captureSink{format: b.Format()}
	sinkID, err := b.Register(sink, bridge.KindGeneric, "sink")
	require.NoError(t, err)
	require.NoError(t, b.Connect(p.PortID(), sinkID))

	t.Run("Тишина до первого пакета", func(t *testing.T) {
		b.Tick()
		assert.True(t, sink.last.IsSilent())
		assert.Zero(t, p.Stats().Underruns)
	})

	t.Run("Прием пакета", func(t *testing.T) {
		pkt := &rtp.Packet{
			Header:  rtp.Header{Version: 2, PayloadType: 96, SequenceNumber: 1, Timestamp: 0},
			Payload: l16Frame(t, 320, 700),
		}
		require.NoError(t, p.WriteRTP(pkt))
		require.NoError(t, p.WriteRTP(pkt), "повтор пакета игнорируется")
		assert.Equal(t, uint64(1), p.Stats().PacketsReceived)

		b.Tick()
		assert.Equal(t, int16(700), sink.last[0])
		assert.Equal(t, int16(700), sink.last[319])

		b.Tick()
		assert.True(t, sink.last.IsSilent())
		assert.Equal(t, uint64(1), p.Stats().Underruns)
	})

	t.Run("Переполнение очереди приема", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			pkt := &rtp.Packet{
				Header:  rtp.Header{Version: 2, PayloadType: 96, SequenceNumber: uint16(10 + i)},
				Payload: l16Frame(t, 320, int16(i+1)),
			}
			require.NoError(t, p.WriteRTP(pkt))
		}
		assert.Equal(t, uint64(3*320), p.Stats().RxDroppedSamples)

		b.Tick()
		assert.Equal(t, int16(4), sink.last[0], "старые отсчеты вытеснены")
		b.Tick()
		assert.Equal(t, int16(5), sink.last[0])
	})

	t.Run("Ошибки", func(t *testing.T) {
		err := p.WriteRTP(&rtp.Packet{Header: rtp.Header{PayloadType: 0}, Payload: []byte{1, 2}})
		assert.True(t, media.HasErrorCode(err, media.ErrorCodeInvalidState))
		err = p.WriteRTP(&rtp.Packet{Header: rtp.Header{PayloadType: 96}, Payload: []byte{1}})
		assert.True(t, media.HasErrorCode(err, media.ErrorCodeInvalidState))
		assert.True(t, media.HasErrorCode(p.WriteRTP(nil), media.ErrorCodeInvalidState))
	})
}

func TestSendErrors(t *testing.T) {
	b := newTestBridge(t)
	fail := PacketWriterFunc(func(*rtp.Packet) error { return errors.New("сеть недоступна") })
	p, err := New(b, "PCMA/8000/1", codecParam(t, "PCMA/8000/1"), fail, testConfig())
	require.NoError(t, err)

	require.NoError(t, b.Connect(p.PortID(), p.PortID()))
	b.Tick()
	b.Tick()
	require.NoError(t, p.Close())

	stats := p.Stats()
	assert.Equal(t, uint64(2), stats.SendErrors)
	assert.Zero(t, stats.PacketsSent)
}

func TestPortLifecycle(t *testing.T) {
	b := newTestBridge(t)

	_, err := New(b, "PCMU/8000/1", codecParam(t, "PCMU/8000/1"), nil, testConfig())
	assert.True(t, media.HasErrorCode(err, media.ErrorCodeInvalidState))
	_, err = New(b, "opus/48000/2", codecParam(t, "opus/48000/2"), &packetLog{}, testConfig())
	assert.True(t, media.HasErrorCode(err, media.ErrorCodeUnsupportedCapability))

	cfg := testConfig()
	cfg.Name = "call-1"
	p, err := New(b, "PCMU/8000/1", codecParam(t, "PCMU/8000/1"), &packetLog{}, cfg)
	require.NoError(t, err)

	info, err := p.PortInfo()
	require.NoError(t, err)
	assert.Equal(t, "call-1", info.Name)
	assert.Equal(t, 8000, info.Format.ClockRate)

	assert.Same(t, p, FromAudioMedia(&p.AudioMedia))
	assert.Nil(t, FromAudioMedia(nil))

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Equal(t, 0, b.PortCount())
	assert.Same(t, p, FromAudioMedia(&p.AudioMedia), "тип порта доступен после закрытия")

	err = p.WriteRTP(&rtp.Packet{Header: rtp.Header{PayloadType: 0}, Payload: []byte{0xFF}})
	assert.True(t, media.HasErrorCode(err, media.ErrorCodeInvalidState))
}

func TestNewNegotiated(t *testing.T) {
	b := newTestBridge(t)
	cfg := codec.DefaultConfig()
	cfg.Logger = logr.Discard()
	codecs, err := codec.NewManager(cfg)
	require.NoError(t, err)

	remote := &sdp.MediaDescription{
		MediaName:  sdp.MediaName{Media: "audio", Port: sdp.RangedPort{Value: 5004}, Formats: []string{"8"}},
		Attributes: []sdp.Attribute{{Key: "rtpmap", Value: "8 PCMA/8000"}},
	}
	p, err := NewNegotiated(b, codecs, remote, &packetLog{}, testConfig())
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, "PCMA/8000/1", p.Codec())

	remote.MediaName.Formats = []string{"18"}
	remote.Attributes = []sdp.Attribute{{Key: "rtpmap", Value: "18 G729/8000"}}
	_, err = NewNegotiated(b, codecs, remote, &packetLog{}, testConfig())
	assert.True(t, media.HasErrorCode(err, media.ErrorCodeNotFound))
}
