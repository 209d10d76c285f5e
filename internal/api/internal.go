package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"callgate/internal/recorder"
)

// handleRouteInfo decide la admisión de una llamada por HTTP. Es el
// mismo camino que FastAGI para integraciones que consultan por REST
// (por ejemplo un dialplan con CURL en vez de AGI).
func (s *Server) handleRouteInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	did := r.URL.Query().Get("did")
	if did == "" {
		respondError(w, http.StatusBadRequest, "did is required")
		return
	}
	callID := r.URL.Query().Get("call_id")
	if callID == "" {
		respondError(w, http.StatusBadRequest, "call_id is required")
		return
	}

	started := time.Now()
	adm, err := s.engine.Decide(callID, did)
	if err != nil {
		// Settings ilegibles: el PBX debe rechazar la llamada.
		log.Printf("[API] Error decidiendo %s: %v", callID, err)
		respondError(w, http.StatusServiceUnavailable, "decision unavailable")
		return
	}

	if !adm.Admitted {
		if err := s.recorder.RecordRejection(adm, did, started); err != nil {
			log.Printf("[API] Error registrando rechazo %s: %v", callID, err)
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"admitted":      false,
			"call_id":       callID,
			"reject_reason": adm.RejectReason,
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"admitted":     true,
		"call_id":      callID,
		"link_id":      adm.Link.ID,
		"client":       adm.Link.ClientIdentifier,
		"target":       adm.Link.SIPURI,
		"dial_timeout": int(adm.DialTimeout.Seconds()),
	})
}

// logCallRequest es el reporte de resultado que manda el PBX al terminar
// una llamada admitida. status acepta tanto los DIALSTATUS de Asterisk
// como los resultados canónicos.
type logCallRequest struct {
	CallID     string `json:"call_id"`
	Status     string `json:"status"`
	AnsweredAt string `json:"answered_at,omitempty"`
	EndedAt    string `json:"ended_at,omitempty"`
	Duration   int    `json:"duration_seconds"`
	Billsec    int    `json:"billsec_seconds"`
}

func (s *Server) handleLogCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req logCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CallID == "" || req.Status == "" {
		respondError(w, http.StatusBadRequest, "call_id and status are required")
		return
	}

	outcome := recorder.Outcome{
		CallID:          req.CallID,
		Outcome:         mapDialStatus(req.Status),
		AnsweredAt:      parseTimePtr(req.AnsweredAt),
		EndedAt:         parseTimePtr(req.EndedAt),
		DurationSeconds: req.Duration,
		BillsecSeconds:  req.Billsec,
	}

	if err := s.recorder.RecordOutcome(outcome); err != nil {
		log.Printf("[API] Error registrando resultado %s: %v", req.CallID, err)
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

// mapDialStatus traduce los DIALSTATUS de Asterisk a resultados
// canónicos. Un valor ya canónico pasa sin tocar.
func mapDialStatus(status string) string {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "ANSWERED", "ANSWER":
		return "answered"
	case "BUSY":
		return "busy"
	case "NOANSWER", "NO ANSWER", "CANCEL":
		return "no-answer"
	case "FAILED", "CONGESTION", "CHANUNAVAIL":
		return "failed"
	default:
		return status
	}
}

func parseTimePtr(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
