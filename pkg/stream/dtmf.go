package stream

import (
	"strings"
	"time"

	"github.com/pion/rtp"

	"github.com/arzzra/confbridge/pkg/media"
)

// Частота меток времени telephone-event (RFC 4733)
const eventClockRate = 8000

// Повторы начальных и конечных пакетов события
const eventRedundancy = 3

// DTMFDigit - код события RFC 4733 (0-15)
type DTMFDigit uint8

const dtmfSymbols = "0123456789*#ABCD"

func (d DTMFDigit) String() string {
	if int(d) < len(dtmfSymbols) {
		return dtmfSymbols[d : d+1]
	}
	return "?"
}

// ParseDTMF преобразует строку в коды событий. Буквы A-D без учета регистра.
func ParseDTMF(s string) ([]DTMFDigit, error) {
	digits := make([]DTMFDigit, 0, len(s))
	for _, r := range strings.ToUpper(s) {
		i := strings.IndexRune(dtmfSymbols, r)
		if i < 0 {
			return nil, media.NewError(media.ErrorCodeNotFound, "недопустимый DTMF символ %q", r)
		}
		digits = append(digits, DTMFDigit(i))
	}
	return digits, nil
}

// DTMFEvent - принятое DTMF событие
type DTMFEvent struct {
	Digit     DTMFDigit
	Duration  time.Duration
	Volume    uint8 // 0-63, уровень -dBm0
	Timestamp uint32
}

// eventPayload - тело пакета telephone-event
type eventPayload struct {
	event    uint8
	end      bool
	volume   uint8
	duration uint16
}

func (e eventPayload) marshal() []byte {
	data := make([]byte, 4)
	data[0] = e.event
	if e.end {
		data[1] |= 0x80
	}
	data[1] |= e.volume & 0x3F
	data[2] = byte(e.duration >> 8)
	data[3] = byte(e.duration)
	return data
}

func parseEventPayload(data []byte) (eventPayload, error) {
	if len(data) < 4 {
		return eventPayload{}, media.NewError(media.ErrorCodeInvalidState, "некорректный размер telephone-event: %d", len(data))
	}
	return eventPayload{
		event:    data[0],
		end:      data[1]&0x80 != 0,
		volume:   data[1] & 0x3F,
		duration: uint16(data[2])<<8 | uint16(data[3]),
	}, nil
}

// DialDTMF отправляет цифры событиями telephone-event. Каждое событие
// занимает duration, метка времени аудио сдвигается на ту же величину.
func (p *Port) DialDTMF(digits string, duration time.Duration) error {
	rp := p.port
	if rp.eventPT == 0 {
		return media.NewError(media.ErrorCodeUnsupportedCapability, "telephone-event не согласован")
	}
	if duration <= 0 {
		return media.NewError(media.ErrorCodeInvalidState, "длительность DTMF должна быть положительной")
	}
	codes, err := ParseDTMF(digits)
	if err != nil {
		return err
	}

	units := duration.Seconds() * eventClockRate
	if units > 0xFFFF {
		units = 0xFFFF
	}
	rp.mu.Lock()
	defer rp.mu.Unlock()
	if rp.closed {
		return media.NewError(media.ErrorCodeInvalidState, "порт потока закрыт")
	}

	for _, d := range codes {
		payload := eventPayload{event: uint8(d), volume: 10, duration: uint16(units)}
		for i := 0; i < 2*eventRedundancy; i++ {
			payload.end = i >= eventRedundancy
			rp.enqueueLocked(&rtp.Packet{
				Header: rtp.Header{
					Version:        2,
					Marker:         i == 0,
					PayloadType:    rp.eventPT,
					SequenceNumber: rp.seq,
					Timestamp:      rp.ts,
					SSRC:           rp.ssrc,
				},
				Payload: payload.marshal(),
			})
			rp.seq++
		}
		rp.ts += uint32(duration.Seconds() * float64(rp.format.ClockRate))
		rp.logger.V(1).Info("DTMF отправлен", "digit", d.String())
	}
	return nil
}

// receiveEventLocked обрабатывает пакет telephone-event. Возвращает событие,
// если пакет начинает новое нажатие.
func (rp *rtpPort) receiveEventLocked(pkt *rtp.Packet) (*DTMFEvent, error) {
	payload, err := parseEventPayload(pkt.Payload)
	if err != nil {
		return nil, err
	}
	if payload.event > 15 {
		return nil, nil
	}

	if payload.end {
		if rp.eventActive && rp.eventTS == pkt.Timestamp {
			rp.eventActive = false
		}
		return nil, nil
	}
	if rp.eventActive && rp.eventTS == pkt.Timestamp {
		return nil, nil
	}
	// новое событие отличается меткой времени
	rp.eventActive = true
	rp.eventTS = pkt.Timestamp
	rp.events.Add(1)
	return &DTMFEvent{
		Digit:     DTMFDigit(payload.event),
		Duration:  time.Duration(payload.duration) * time.Second / eventClockRate,
		Volume:    payload.volume,
		Timestamp: pkt.Timestamp,
	}, nil
}
