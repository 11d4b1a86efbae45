package media

// AvgSignal возвращает среднее абсолютное значение отсчетов кадра
func AvgSignal(f Frame) int {
	if len(f) == 0 {
		return 0
	}
	var sum int64
	for _, s := range f {
		v := int64(s)
		if v < 0 {
			v = -v
		}
		sum += v
	}
	return int(sum / int64(len(f)))
}

// SignalLevel переводит кадр в уровень сигнала в процентах (0-100).
// Средняя амплитуда сжимается по μ-law, что дает шкалу, близкую к
// логарифмической: тишина дает 0, полная шкала дает 100.
func SignalLevel(f Frame) uint {
	avg := AvgSignal(f)
	if avg > 32767 {
		avg = 32767
	}
	level := uint((LinearToUlaw(int16(avg)) ^ 0xFF) & 0x7F)
	return level * 100 / 127
}
