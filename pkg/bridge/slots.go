package bridge

import (
	"sort"

	"github.com/arzzra/confbridge/pkg/media"
)

// slotPool управляет номерами портов моста.
// Номера выдаются последовательно: всегда наименьший свободный,
// освобожденный номер возвращается в пул и может быть выдан повторно.
// Не потокобезопасен, защищается мьютексом моста.
type slotPool struct {
	size      int
	allocated map[int]bool
	available []int
}

func newSlotPool(size int) *slotPool {
	p := &slotPool{
		size:      size,
		allocated: make(map[int]bool, size),
		available: make([]int, 0, size),
	}
	for id := 0; id < size; id++ {
		p.available = append(p.available, id)
	}
	return p
}

// allocate выдает наименьший свободный номер
func (p *slotPool) allocate() (int, error) {
	if len(p.available) == 0 {
		return InvalidPortID, media.NewError(media.ErrorCodeResourceExhausted,
			"достигнут максимум портов моста (%d)", p.size)
	}
	id := p.available[0]
	p.available = p.available[1:]
	p.allocated[id] = true
	return id, nil
}

// release возвращает номер в пул. Повторное освобождение - ошибка NotFound.
func (p *slotPool) release(id int) error {
	if !p.allocated[id] {
		return media.NewPortError(media.ErrorCodeNotFound, id, "номер порта не выделен")
	}
	delete(p.allocated, id)

	i := sort.SearchInts(p.available, id)
	p.available = append(p.available, 0)
	copy(p.available[i+1:], p.available[i:])
	p.available[i] = id
	return nil
}

// inUse возвращает количество выданных номеров
func (p *slotPool) inUse() int {
	return len(p.allocated)
}
