package codec

import (
	"encoding/binary"

	"github.com/arzzra/confbridge/pkg/media"
)

// Codec кодирует кадры моста в полезную нагрузку RTP и обратно.
// Кадры имеют формат Param.PCMFormat кодека.
type Codec interface {
	ID() string
	Param() Param
	Encode(f media.Frame) ([]byte, error)
	Decode(payload []byte) (media.Frame, error)
}

type g711Codec struct {
	id    string
	param Param
	alaw  bool
}

func (c *g711Codec) ID() string   { return c.id }
func (c *g711Codec) Param() Param { return c.param.clone() }

func (c *g711Codec) Encode(f media.Frame) ([]byte, error) {
	if c.alaw {
		return media.EncodeAlaw(f), nil
	}
	return media.EncodeUlaw(f), nil
}

func (c *g711Codec) Decode(payload []byte) (media.Frame, error) {
	if c.alaw {
		return media.DecodeAlaw(payload), nil
	}
	return media.DecodeUlaw(payload), nil
}

// l16Codec - линейный PCM в сетевом порядке байт (RFC 3551)
type l16Codec struct {
	id    string
	param Param
}

func (c *l16Codec) ID() string   { return c.id }
func (c *l16Codec) Param() Param { return c.param.clone() }

func (c *l16Codec) Encode(f media.Frame) ([]byte, error) {
	out := make([]byte, 2*len(f))
	for i, s := range f {
		binary.BigEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out, nil
}

func (c *l16Codec) Decode(payload []byte) (media.Frame, error) {
	if len(payload)%2 != 0 {
		return nil, media.NewError(media.ErrorCodeInvalidState, "нечетная длина L16 данных: %d", len(payload))
	}
	out := make(media.Frame, len(payload)/2)
	for i := range out {
		out[i] = int16(binary.BigEndian.Uint16(payload[2*i:]))
	}
	return out, nil
}

func newCodec(id string, p Param) (Codec, error) {
	switch p.Info.FormatID {
	case media.FormatPCMU:
		return &g711Codec{id: id, param: p}, nil
	case media.FormatPCMA:
		return &g711Codec{id: id, param: p, alaw: true}, nil
	case media.FormatL16:
		return &l16Codec{id: id, param: p}, nil
	}
	return nil, media.NewError(media.ErrorCodeUnsupportedCapability, "кодировщик %s недоступен", id)
}
