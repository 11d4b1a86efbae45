package bridge

import "sort"

// graph - неизменяемый снимок реестра и ребер, читаемый циклом обработки
type graph struct {
	ports []graphPort // по возрастанию ID
	edges int
}

type graphPort struct {
	entry        *portEntry
	listeners    []*portEntry
	transmitters []*portEntry
}

// publishLocked строит новый снимок графа. Вызывается под b.mu.
func (b *Bridge) publishLocked() {
	ids := make([]int, 0, len(b.ports))
	for id := range b.ports {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	g := &graph{ports: make([]graphPort, len(ids))}
	index := make(map[int]int, len(ids))
	for i, id := range ids {
		g.ports[i].entry = b.ports[id]
		index[id] = i
	}

	for _, id := range ids {
		sinks := make([]int, 0, len(b.edges[id]))
		for sink := range b.edges[id] {
			sinks = append(sinks, sink)
		}
		sort.Ints(sinks)

		src := &g.ports[index[id]]
		for _, sink := range sinks {
			dst := &g.ports[index[sink]]
			src.listeners = append(src.listeners, dst.entry)
			dst.transmitters = append(dst.transmitters, src.entry)
			g.edges++
		}
	}

	b.snapshot.Store(g)
	if b.metrics != nil {
		b.metrics.ports.Set(float64(len(g.ports)))
		b.metrics.edges.Set(float64(g.edges))
	}
}
