package media

import "math"

// Frame - кадр аудио: чередующиеся 16-битные линейные отсчеты всех каналов
type Frame []int16

// NewFrame создает кадр тишины на указанное число отсчетов
func NewFrame(samples int) Frame {
	return make(Frame, samples)
}

// Silence заполняет кадр нулями
func (f Frame) Silence() {
	for i := range f {
		f[i] = 0
	}
}

// Clone возвращает независимую копию кадра
func (f Frame) Clone() Frame {
	c := make(Frame, len(f))
	copy(c, f)
	return c
}

// IsSilent возвращает true если все отсчеты нулевые
func (f Frame) IsSilent() bool {
	for _, s := range f {
		if s != 0 {
			return false
		}
	}
	return true
}

// Clamp16 ограничивает значение диапазоном 16-битного отсчета.
// Переполнение при смешивании и усилении всегда обрезается (hard clamp),
// циклический перенос не используется.
func Clamp16(v float32) int16 {
	if v >= math.MaxInt16 {
		return math.MaxInt16
	}
	if v <= math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// Accumulator суммирует кадры нескольких источников для одного приемника.
// Сумма хранится в float32, поэтому промежуточное переполнение невозможно;
// ограничение диапазона выполняется один раз в Flush.
type Accumulator struct {
	sum     []float32
	sources int
}

// NewAccumulator создает аккумулятор на указанное число отсчетов
func NewAccumulator(samples int) *Accumulator {
	return &Accumulator{sum: make([]float32, samples)}
}

// Reset обнуляет аккумулятор перед новым кадром
func (a *Accumulator) Reset() {
	for i := range a.sum {
		a.sum[i] = 0
	}
	a.sources = 0
}

// Sources возвращает число добавленных источников
func (a *Accumulator) Sources() int {
	return a.sources
}

// Add добавляет кадр источника с коэффициентом усиления gain.
// При gain == 0 кадр не вносит вклад, но учитывается как источник.
func (a *Accumulator) Add(f Frame, gain float32) {
	a.sources++
	if gain == 0 {
		return
	}
	n := len(f)
	if n > len(a.sum) {
		n = len(a.sum)
	}
	for i := 0; i < n; i++ {
		a.sum[i] += float32(f[i]) * gain
	}
}

// Flush записывает в dst сумму, умноженную на gain, с ограничением диапазона
func (a *Accumulator) Flush(dst Frame, gain float32) {
	n := len(dst)
	if n > len(a.sum) {
		n = len(a.sum)
	}
	if gain == 0 {
		dst.Silence()
		return
	}
	for i := 0; i < n; i++ {
		dst[i] = Clamp16(a.sum[i] * gain)
	}
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

// ApplyGain умножает кадр на gain на месте с ограничением диапазона
func ApplyGain(f Frame, gain float32) {
	if gain == 1 {
		return
	}
	if gain == 0 {
		f.Silence()
		return
	}
	for i, s := range f {
		f[i] = Clamp16(float32(s) * gain)
	}
}
