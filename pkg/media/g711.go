package media

// G.711 кодирование по ITU-T G.711 (сегментная аппроксимация).

const (
	ulawBias = 0x84
	ulawClip = 32635
)

var (
	segEnd     = [8]int{0xFF, 0x1FF, 0x3FF, 0x7FF, 0xFFF, 0x1FFF, 0x3FFF, 0x7FFF}
	alawSegEnd = [8]int{0x1F, 0x3F, 0x7F, 0xFF, 0x1FF, 0x3FF, 0x7FF, 0xFFF}
)

func segment(v int) int {
	for i, end := range segEnd {
		if v <= end {
			return i
		}
	}
	return len(segEnd)
}

// LinearToUlaw кодирует 16-битный отсчет в μ-law
func LinearToUlaw(sample int16) byte {
	v := int(sample)
	mask := 0xFF
	if v < 0 {
		v = -v
		mask = 0x7F
	}
	if v > ulawClip {
		v = ulawClip
	}
	v += ulawBias

	seg := segment(v)
	if seg >= 8 {
		return byte(0x7F ^ mask)
	}
	uval := (seg << 4) | ((v >> (seg + 3)) & 0x0F)
	return byte(uval ^ mask)
}

// UlawToLinear декодирует μ-law отсчет в 16-битный линейный
func UlawToLinear(u byte) int16 {
	u = ^u
	t := (int(u&0x0F) << 3) + ulawBias
	t <<= (int(u) & 0x70) >> 4
	if u&0x80 != 0 {
		return int16(ulawBias - t)
	}
	return int16(t - ulawBias)
}

// LinearToAlaw кодирует 16-битный отсчет в A-law
func LinearToAlaw(sample int16) byte {
	v := int(sample) >> 3
	mask := 0xD5
	if v < 0 {
		mask = 0x55
		v = -v - 1
	}

	seg := len(alawSegEnd)
	for i, end := range alawSegEnd {
		if v <= end {
			seg = i
			break
		}
	}
	if seg >= 8 {
		return byte(0x7F ^ mask)
	}
	aval := seg << 4
	if seg < 2 {
		aval |= (v >> 1) & 0x0F
	} else {
		aval |= (v >> seg) & 0x0F
	}
	return byte(aval ^ mask)
}

// AlawToLinear декодирует A-law отсчет в 16-битный линейный
func AlawToLinear(a byte) int16 {
	a ^= 0x55
	t := int(a&0x0F) << 4
	seg := (int(a) & 0x70) >> 4
	switch seg {
	case 0:
		t += 8
	case 1:
		t += 0x108
	default:
		t += 0x108
		t <<= seg - 1
	}
	if a&0x80 != 0 {
		return int16(t)
	}
	return int16(-t)
}

// EncodeUlaw кодирует кадр в μ-law
func EncodeUlaw(f Frame) []byte {
	out := make([]byte, len(f))
	for i, s := range f {
		out[i] = LinearToUlaw(s)
	}
	return out
}

// DecodeUlaw декодирует μ-law данные в кадр
func DecodeUlaw(data []byte) Frame {
	out := make(Frame, len(data))
	for i, b := range data {
		out[i] = UlawToLinear(b)
	}
	return out
}

// EncodeAlaw кодирует кадр в A-law
func EncodeAlaw(f Frame) []byte {
	out := make([]byte, len(f))
	for i, s := range f {
		out[i] = LinearToAlaw(s)
	}
	return out
}

// DecodeAlaw декодирует A-law данные в кадр
func DecodeAlaw(data []byte) Frame {
	out := make(Frame, len(data))
	for i, b := range data {
		out[i] = AlawToLinear(b)
	}
	return out
}
