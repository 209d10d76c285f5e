package engine

import (
	"fmt"
	"log"
	"time"

	"callgate/internal/database"
)

// Resultados finales de un intento de llamada.
const (
	OutcomeAnswered = "answered"
	OutcomeBusy     = "busy"
	OutcomeNoAnswer = "no-answer"
	OutcomeFailed   = "failed"

	// OutcomeOrphaned lo asigna el reaper cuando nunca llegó el resultado.
	OutcomeOrphaned = "outcome-orphaned"
)

// Razones de rechazo de admisión.
const (
	RejectNoCampaign     = "rejected-no-campaign"
	RejectNoEligibleLink = "rejected-no-eligible-link"
	RejectCapacity       = "rejected-capacity"
)

// SettingsSource es lo que el motor necesita del settings store.
type SettingsSource interface {
	CampaignByDID(did string) (*database.Campaign, error)
	EligibleLinks(c *database.Campaign, callID string) ([]database.LinkSetting, error)
	AdvanceRotation(campaignID int64)
}

// Causas por las que un candidato se salta durante la decisión.
const (
	SkipTotalCap    = "total-cap-reached"
	SkipConcurrency = "concurrency-full"
)

// SkippedCandidate registra qué tope bloqueó a un candidato.
type SkippedCandidate struct {
	LinkID int64
	Reason string
}

// Admission es el resultado de una decisión. Cuando Admitted es false,
// RejectReason lleva una de las razones tipadas de arriba y Skipped
// detalla qué tope bloqueó a cada candidato.
type Admission struct {
	Admitted     bool
	RejectReason string
	CallID       string
	Campaign     *database.Campaign
	Link         *database.LinkSetting
	Candidates   []int64
	Skipped      []SkippedCandidate
	DialTimeout  time.Duration
}

// Engine toma la decisión de admisión para cada llamada entrante. La
// decisión es puramente en memoria sobre el snapshot de settings y los
// contadores atómicos: nada bloquea en la base de datos en el hot path
// salvo un refresh de snapshot vencido.
type Engine struct {
	settings     SettingsSource
	tracker      *ConcurrencyTracker
	pending      *AttemptTracker
	safetyMargin time.Duration
	now          func() time.Time
}

// New crea el motor de admisión.
func New(settings SettingsSource, tracker *ConcurrencyTracker, pending *AttemptTracker, safetyMargin time.Duration) *Engine {
	return &Engine{
		settings:     settings,
		tracker:      tracker,
		pending:      pending,
		safetyMargin: safetyMargin,
		now:          time.Now,
	}
}

// Tracker expone el tracker de concurrencia (para la API de monitoreo).
func (e *Engine) Tracker() *ConcurrencyTracker { return e.tracker }

// Pending expone el tracker de intentos pendientes.
func (e *Engine) Pending() *AttemptTracker { return e.pending }

// Decide resuelve la admisión de una llamada entrante al DID dado.
//
// Si falla la lectura de settings devuelve error y el llamador debe
// rechazar la llamada: ante la duda, cerrado. Un Admission con
// Admitted=false nunca reservó cupo en ningún link.
func (e *Engine) Decide(callID, did string) (*Admission, error) {
	campaign, err := e.settings.CampaignByDID(did)
	if err != nil {
		return nil, fmt.Errorf("decide %s: %w", callID, err)
	}
	if campaign == nil || campaign.Status != database.CampaignActive {
		log.Printf("[Engine] Llamada %s al DID %s rechazada: sin campaña activa", callID, did)
		return &Admission{CallID: callID, RejectReason: RejectNoCampaign}, nil
	}

	links, err := e.settings.EligibleLinks(campaign, callID)
	if err != nil {
		return nil, fmt.Errorf("decide %s: %w", callID, err)
	}
	if len(links) == 0 {
		log.Printf("[Engine] Llamada %s (campaña %d) rechazada: sin links elegibles", callID, campaign.ID)
		return &Admission{CallID: callID, Campaign: campaign, RejectReason: RejectNoEligibleLink}, nil
	}

	candidates := make([]int64, len(links))
	for i, l := range links {
		candidates[i] = l.ID
	}

	now := e.now()
	skipped := make([]SkippedCandidate, 0, len(links))
	for i := range links {
		l := &links[i]

		// Filtro de cap total sobre el snapshot: puede estar desfasado
		// hasta el TTL, el incremento real acotado vive en la base.
		if l.TotalCapReached() {
			skipped = append(skipped, SkippedCandidate{LinkID: l.ID, Reason: SkipTotalCap})
			continue
		}
		if !e.tracker.TryReserve(l.ID, l.MaxConcurrency) {
			skipped = append(skipped, SkippedCandidate{LinkID: l.ID, Reason: SkipConcurrency})
			continue
		}

		deadline := now.Add(campaign.DialTimeout()).Add(e.safetyMargin)
		e.pending.Add(&PendingAttempt{
			CallID:             callID,
			CampaignID:         campaign.ID,
			DID:                did,
			LinkID:             l.ID,
			Candidates:         candidates,
			StartedAt:          now,
			Deadline:           deadline,
			MinBillableSeconds: campaign.MinBillableSeconds,
		})
		e.settings.AdvanceRotation(campaign.ID)

		log.Printf("[Engine] Llamada %s admitida en link %d (%s) campaña %d, concurrencia %d/%d",
			callID, l.ID, l.ClientIdentifier, campaign.ID, e.tracker.CurrentCount(l.ID), l.MaxConcurrency)

		admitted := *l
		return &Admission{
			Admitted:    true,
			CallID:      callID,
			Campaign:    campaign,
			Link:        &admitted,
			Candidates:  candidates,
			DialTimeout: campaign.DialTimeout(),
		}, nil
	}

	// Detalle por candidato para diagnóstico del operador: distingue el
	// cap total de la concurrencia llena.
	for _, s := range skipped {
		log.Printf("[Engine] Llamada %s: link %d saltado (%s)", callID, s.LinkID, s.Reason)
	}
	log.Printf("[Engine] Llamada %s (campaña %d) rechazada: %d candidatos sin cupo", callID, campaign.ID, len(links))
	return &Admission{
		CallID:       callID,
		Campaign:     campaign,
		Candidates:   candidates,
		Skipped:      skipped,
		RejectReason: RejectCapacity,
	}, nil
}
