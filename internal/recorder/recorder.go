package recorder

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"callgate/internal/database"
	"callgate/internal/engine"
	"callgate/internal/websocket"
)

// AttemptStore persiste el registro final de un intento. Lo implementa
// database.Repository.
type AttemptStore interface {
	FinalizeAttempt(a *database.CallAttempt, countedLinkID *int64) error
}

// Outcome es el resultado reportado por el PBX para una llamada admitida.
type Outcome struct {
	CallID          string
	Outcome         string
	AnsweredAt      *time.Time
	EndedAt         *time.Time
	DurationSeconds int
	BillsecSeconds  int
}

// Recorder cierra el ciclo de vida de una llamada admitida: libera el
// cupo del link, persiste el intento y, si el resultado es facturable,
// incrementa el contador total del link. Todo el protocolo es at-most-once:
// el Take atómico del intento pendiente garantiza una sola liberación y la
// clave única de call_id en la base garantiza una sola persistencia.
type Recorder struct {
	store   AttemptStore
	tracker *engine.ConcurrencyTracker
	pending *engine.AttemptTracker
}

// New crea el recorder.
func New(store AttemptStore, tracker *engine.ConcurrencyTracker, pending *engine.AttemptTracker) *Recorder {
	return &Recorder{store: store, tracker: tracker, pending: pending}
}

// RecordOutcome procesa el resultado final de una llamada. Es idempotente:
// un segundo reporte para el mismo call id es un no-op exitoso.
//
// El cupo del link se libera ANTES de persistir y nunca se revierte: si
// la persistencia falla, el insert no ocurrió (la clave única sigue
// libre), el intento vuelve a la tabla de pendientes marcado como ya
// liberado, y el PBX puede reintentar el reporte sin duplicar nada.
func (r *Recorder) RecordOutcome(in Outcome) error {
	outcome, err := normalizeOutcome(in.Outcome)
	if err != nil {
		return err
	}

	p := r.pending.Take(in.CallID)
	if p == nil {
		// Ya procesado (resultado repetido o el reaper ganó la carrera),
		// o un call id que nunca fue admitido. En ambos casos no hay
		// cupo que liberar.
		log.Printf("[Recorder] Resultado para %s sin intento pendiente, ignorado", in.CallID)
		return nil
	}

	r.releaseOnce(p)

	attempt := r.buildAttempt(p, outcome, in)

	var counted *int64
	if billable(outcome, in.BillsecSeconds, p.MinBillableSeconds) {
		counted = &p.LinkID
	}

	if err := r.persist(attempt, counted); err != nil {
		// El intento vuelve a la tabla para que el reintento del PBX (o
		// el reaper) complete el registro. El cupo sigue liberado.
		r.pending.Add(p)
		return err
	}

	log.Printf("[Recorder] Llamada %s finalizada: %s (billsec %d, facturable %v)",
		in.CallID, outcome, in.BillsecSeconds, counted != nil)
	websocket.NotifyOutcome(in.CallID, outcome, p.LinkID, counted != nil)
	return nil
}

// RecordOrphan finaliza un intento cuyo resultado nunca llegó. Lo invoca
// el reaper. Un huérfano nunca es facturable.
func (r *Recorder) RecordOrphan(callID string) error {
	p := r.pending.Take(callID)
	if p == nil {
		return nil
	}

	r.releaseOnce(p)

	now := time.Now()
	attempt := &database.CallAttempt{
		CallID:     p.CallID,
		CampaignID: p.CampaignID,
		DID:        p.DID,
		Candidates: p.Candidates,
		LinkID:     &p.LinkID,
		Outcome:    engine.OutcomeOrphaned,
		StartedAt:  p.StartedAt,
		EndedAt:    &now,
	}

	if err := r.persist(attempt, nil); err != nil {
		// Vuelve a la tabla: el próximo barrido del reaper reintenta.
		r.pending.Add(p)
		return err
	}

	log.Printf("[Recorder] Llamada %s marcada como huérfana (link %d liberado)", callID, p.LinkID)
	websocket.NotifyOutcome(callID, engine.OutcomeOrphaned, p.LinkID, false)
	return nil
}

// RecordRejection persiste un intento rechazado, sin link ni liberación.
func (r *Recorder) RecordRejection(adm *engine.Admission, did string, startedAt time.Time) error {
	attempt := &database.CallAttempt{
		CallID:     adm.CallID,
		DID:        did,
		Candidates: adm.Candidates,
		Outcome:    adm.RejectReason,
		StartedAt:  startedAt,
	}
	if adm.Campaign != nil {
		attempt.CampaignID = adm.Campaign.ID
	}
	if err := r.persist(attempt, nil); err != nil {
		return err
	}
	websocket.NotifyRejection(adm.CallID, adm.RejectReason)
	return nil
}

// releaseOnce libera el cupo del link una sola vez por intento, aunque
// el intento pase varias veces por el recorder tras fallas de persistencia.
func (r *Recorder) releaseOnce(p *engine.PendingAttempt) {
	if p.Released {
		return
	}
	r.tracker.Release(p.LinkID)
	p.Released = true
}

func (r *Recorder) persist(a *database.CallAttempt, counted *int64) error {
	err := r.store.FinalizeAttempt(a, counted)
	if errors.Is(err, database.ErrDuplicateAttempt) {
		log.Printf("[Recorder] Intento %s ya registrado, no-op", a.CallID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("recorder: persistiendo %s: %w", a.CallID, err)
	}
	return nil
}

func (r *Recorder) buildAttempt(p *engine.PendingAttempt, outcome string, in Outcome) *database.CallAttempt {
	ended := in.EndedAt
	if ended == nil {
		now := time.Now()
		ended = &now
	}
	return &database.CallAttempt{
		CallID:          p.CallID,
		CampaignID:      p.CampaignID,
		DID:             p.DID,
		Candidates:      p.Candidates,
		LinkID:          &p.LinkID,
		Outcome:         outcome,
		StartedAt:       p.StartedAt,
		AnsweredAt:      in.AnsweredAt,
		EndedAt:         ended,
		DurationSeconds: in.DurationSeconds,
		BillsecSeconds:  in.BillsecSeconds,
	}
}

// billable decide si el resultado incrementa el contador total del link:
// solo las llamadas atendidas que alcanzan el mínimo facturable cuentan.
func billable(outcome string, billsec, minBillable int) bool {
	return outcome == engine.OutcomeAnswered && billsec >= minBillable
}

func normalizeOutcome(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "answered":
		return engine.OutcomeAnswered, nil
	case "busy":
		return engine.OutcomeBusy, nil
	case "no-answer", "noanswer", "no_answer":
		return engine.OutcomeNoAnswer, nil
	case "failed":
		return engine.OutcomeFailed, nil
	default:
		return "", fmt.Errorf("recorder: resultado desconocido %q", raw)
	}
}
