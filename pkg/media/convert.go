package media

// Converter приводит кадры порта к формату моста и обратно.
// Поддерживается изменение частоты дискретизации (линейная интерполяция)
// и числа каналов (моно <-> стерео).
type Converter struct {
	from Format
	to   Format

	// промежуточный буфер после смены числа каналов
	chanBuf Frame
}

// NewConverter создает конвертер между форматами с одинаковой длительностью кадра
func NewConverter(from, to Format) *Converter {
	return &Converter{
		from:    from,
		to:      to,
		chanBuf: make(Frame, from.SamplesPerChannel()*to.ChannelCount),
	}
}

// NeedsConversion возвращает true если форматы отличаются частотой или каналами
func NeedsConversion(a, b Format) bool {
	return a.ClockRate != b.ClockRate || a.ChannelCount != b.ChannelCount
}

// Convert преобразует кадр src (формат from) в dst (формат to).
// dst должен иметь длину to.SamplesPerFrame().
func (c *Converter) Convert(dst, src Frame) {
	mid := src
	if c.from.ChannelCount != c.to.ChannelCount {
		remixChannels(c.chanBuf, src, c.from.ChannelCount, c.to.ChannelCount)
		mid = c.chanBuf
	}
	if c.from.ClockRate == c.to.ClockRate {
		n := copy(dst, mid)
		for i := n; i < len(dst); i++ {
			dst[i] = 0
		}
		return
	}
	resample(dst, mid, c.to.ChannelCount)
}

// remixChannels меняет число каналов: стерео сводится в моно усреднением,
// моно дублируется в оба канала.
func remixChannels(dst, src Frame, fromCh, toCh int) {
	frames := len(src) / fromCh
	if len(dst)/toCh < frames {
		frames = len(dst) / toCh
	}
	switch {
	case fromCh == 2 && toCh == 1:
		for i := 0; i < frames; i++ {
			dst[i] = int16((int32(src[2*i]) + int32(src[2*i+1])) / 2)
		}
	case fromCh == 1 && toCh == 2:
		for i := 0; i < frames; i++ {
			dst[2*i] = src[i]
			dst[2*i+1] = src[i]
		}
	default:
		copy(dst, src)
	}
}

// resample выполняет линейную интерполяцию src в dst с сохранением числа каналов
func resample(dst, src Frame, channels int) {
	srcFrames := len(src) / channels
	dstFrames := len(dst) / channels
	if srcFrames == 0 || dstFrames == 0 {
		dst.Silence()
		return
	}
	step := float64(srcFrames) / float64(dstFrames)
	for i := 0; i < dstFrames; i++ {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= srcFrames {
			next = srcFrames - 1
		}
		for ch := 0; ch < channels; ch++ {
			a := float64(src[idx*channels+ch])
			b := float64(src[next*channels+ch])
			dst[i*channels+ch] = Clamp16(float32(a + (b-a)*frac))
		}
	}
}
