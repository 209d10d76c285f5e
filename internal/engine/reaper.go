package engine

import (
	"log"
	"sync"
	"time"
)

// OrphanFinalizer finaliza un intento huérfano. Lo implementa el recorder.
type OrphanFinalizer interface {
	RecordOrphan(callID string) error
}

// Reaper recorre periódicamente los intentos pendientes y finaliza los
// que pasaron su deadline (dial_timeout + margen de seguridad) sin que
// llegara un resultado. Sin el reaper, un resultado perdido dejaría el
// cupo del link ocupado para siempre.
type Reaper struct {
	pending   *AttemptTracker
	finalizer OrphanFinalizer
	interval  time.Duration

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewReaper crea el reaper. No arranca hasta Start.
func NewReaper(pending *AttemptTracker, finalizer OrphanFinalizer, interval time.Duration) *Reaper {
	return &Reaper{
		pending:   pending,
		finalizer: finalizer,
		interval:  interval,
	}
}

// Start lanza el worker en background.
func (r *Reaper) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.stopChan = make(chan struct{})

	r.wg.Add(1)
	go r.run()
	log.Printf("[Reaper] Iniciado (intervalo %v)", r.interval)
}

// Stop detiene el worker y espera a que termine.
func (r *Reaper) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopChan)
	r.mu.Unlock()

	r.wg.Wait()
	log.Println("[Reaper] Detenido")
}

func (r *Reaper) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Sweep(time.Now())
		case <-r.stopChan:
			return
		}
	}
}

// Sweep finaliza como huérfanos los intentos vencidos a la hora dada.
// Devuelve cuántos finalizó. El recorder hace el Take atómico, así que
// un resultado real que llegue en el medio simplemente gana la carrera.
func (r *Reaper) Sweep(now time.Time) int {
	expired := r.pending.Expired(now)
	reclaimed := 0
	for _, callID := range expired {
		if err := r.finalizer.RecordOrphan(callID); err != nil {
			log.Printf("[Reaper] Error finalizando huérfano %s: %v", callID, err)
			continue
		}
		reclaimed++
	}
	if reclaimed > 0 {
		log.Printf("[Reaper] %d intentos huérfanos recuperados", reclaimed)
	}
	return reclaimed
}
