package engine

import (
	"sync"
	"time"
)

// PendingAttempt es una llamada admitida cuyo resultado aún no llegó.
// Vive solo en memoria: la base de datos recién ve la llamada cuando el
// recorder la finaliza.
type PendingAttempt struct {
	CallID             string
	CampaignID         int64
	DID                string
	LinkID             int64
	Candidates         []int64
	StartedAt          time.Time
	Deadline           time.Time
	MinBillableSeconds int

	// Released marca que el cupo del link ya se liberó. El recorder lo
	// prende antes de persistir; si la persistencia falla y el intento
	// vuelve a la tabla, el reintento no libera dos veces.
	Released bool
}

// AttemptTracker guarda los intentos pendientes indexados por call id.
// Take es atómico: exactamente un llamador se lleva el intento, lo que
// garantiza que el cupo del link se libera una sola vez aunque el
// resultado real y el reaper compitan.
type AttemptTracker struct {
	mu      sync.Mutex
	pending map[string]*PendingAttempt
}

// NewAttemptTracker crea un tracker vacío.
func NewAttemptTracker() *AttemptTracker {
	return &AttemptTracker{pending: make(map[string]*PendingAttempt)}
}

// Add registra un intento pendiente.
func (t *AttemptTracker) Add(a *PendingAttempt) {
	t.mu.Lock()
	t.pending[a.CallID] = a
	t.mu.Unlock()
}

// Take saca y devuelve el intento del call id, o nil si ya fue tomado.
func (t *AttemptTracker) Take(callID string) *PendingAttempt {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.pending[callID]
	if !ok {
		return nil
	}
	delete(t.pending, callID)
	return a
}

// Get devuelve el intento sin sacarlo, o nil.
func (t *AttemptTracker) Get(callID string) *PendingAttempt {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending[callID]
}

// Count devuelve la cantidad de intentos pendientes.
func (t *AttemptTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Expired devuelve los call ids cuyo deadline ya pasó. No los saca: el
// reaper los toma uno a uno con Take para no pisarse con resultados
// reales que lleguen en el medio.
func (t *AttemptTracker) Expired(now time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for id, a := range t.pending {
		if now.After(a.Deadline) {
			out = append(out, id)
		}
	}
	return out
}
