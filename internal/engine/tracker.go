package engine

import (
	"sync"
	"sync/atomic"
)

// ConcurrencyTracker cuenta las llamadas en curso por link con contadores
// atómicos. Es la única autoridad sobre la concurrencia: nunca se consulta
// la base de datos para decidir si un link tiene cupo.
type ConcurrencyTracker struct {
	counters sync.Map // linkID (int64) -> *int32
}

// NewConcurrencyTracker crea un tracker vacío.
func NewConcurrencyTracker() *ConcurrencyTracker {
	return &ConcurrencyTracker{}
}

func (t *ConcurrencyTracker) counter(linkID int64) *int32 {
	if v, ok := t.counters.Load(linkID); ok {
		return v.(*int32)
	}
	v, _ := t.counters.LoadOrStore(linkID, new(int32))
	return v.(*int32)
}

// TryReserve intenta reservar un cupo en el link. Devuelve true si el
// contador quedó por debajo de max tras la reserva. El bucle CAS garantiza
// que bajo concurrencia nunca se admiten más de max llamadas.
func (t *ConcurrencyTracker) TryReserve(linkID int64, max int) bool {
	if max <= 0 {
		return false
	}
	c := t.counter(linkID)
	for {
		current := atomic.LoadInt32(c)
		if int(current) >= max {
			return false
		}
		if atomic.CompareAndSwapInt32(c, current, current+1) {
			return true
		}
	}
}

// Release libera un cupo. El contador nunca baja de cero: una liberación
// de más se ignora en vez de corromper el conteo.
func (t *ConcurrencyTracker) Release(linkID int64) {
	c := t.counter(linkID)
	for {
		current := atomic.LoadInt32(c)
		if current <= 0 {
			return
		}
		if atomic.CompareAndSwapInt32(c, current, current-1) {
			return
		}
	}
}

// CurrentCount devuelve las llamadas en curso del link.
func (t *ConcurrencyTracker) CurrentCount(linkID int64) int {
	if v, ok := t.counters.Load(linkID); ok {
		return int(atomic.LoadInt32(v.(*int32)))
	}
	return 0
}

// Counts devuelve una instantánea de todos los contadores (para la API de
// monitoreo).
func (t *ConcurrencyTracker) Counts() map[int64]int {
	out := make(map[int64]int)
	t.counters.Range(func(k, v interface{}) bool {
		out[k.(int64)] = int(atomic.LoadInt32(v.(*int32)))
		return true
	})
	return out
}
