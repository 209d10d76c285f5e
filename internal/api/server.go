package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"callgate/internal/auth"
	"callgate/internal/config"
	"callgate/internal/database"
	"callgate/internal/engine"
	"callgate/internal/recorder"
	"callgate/internal/websocket"
)

// Store es lo que la API necesita del repositorio.
type Store interface {
	GetUserByUsername(username string) (*database.User, error)
	RecentAttempts(campaignID *int64, limit int) ([]database.CallAttempt, error)
	ListCampaigns() ([]database.Campaign, error)
	LinkSettingsByCampaign(campaignID int64) ([]database.LinkSetting, error)
}

// Server expone la API HTTP: endpoints internos para el PBX y endpoints
// de operación protegidos con JWT.
type Server struct {
	cfg      config.APIConfig
	repo     Store
	engine   *engine.Engine
	recorder *recorder.Recorder
	hub      *websocket.Hub
}

// NewServer crea el servidor API.
func NewServer(cfg config.APIConfig, repo Store, eng *engine.Engine, rec *recorder.Recorder, hub *websocket.Hub) *Server {
	return &Server{cfg: cfg, repo: repo, engine: eng, recorder: rec, hub: hub}
}

// Start registra las rutas y sirve. Bloquea hasta que el listener falle.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	// Públicos
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/login", s.handleLogin)
	if s.hub != nil {
		mux.HandleFunc("/ws", s.hub.ServeWS)
	}

	// Internos (PBX): protegidos por token compartido
	mux.HandleFunc("/internal/v1/route_info", s.internalAuth(s.handleRouteInfo))
	mux.HandleFunc("/internal/v1/log_call", s.internalAuth(s.handleLogCall))

	// Operación: protegidos por JWT
	mux.HandleFunc("/api/v1/route", auth.Middleware(s.handleRoute))
	mux.HandleFunc("/api/v1/attempts", auth.Middleware(s.handleAttempts))
	mux.HandleFunc("/api/v1/links", auth.Middleware(s.handleLinks))
	mux.HandleFunc("/api/v1/stats", auth.Middleware(s.handleStats))
	mux.HandleFunc("/api/v1/campaigns", auth.Middleware(s.handleCampaigns))

	handler := s.recoveryMiddleware(mux)
	if s.cfg.EnableCORS {
		handler = s.corsMiddleware(handler)
	}

	log.Printf("[API] Servidor escuchando en %s", s.cfg.Address())
	return http.ListenAndServe(s.cfg.Address(), handler)
}

// --- Middleware ---

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("[API] Pánico en %s %s: %v", r.Method, r.URL.Path, rec)
				respondError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Internal-Token")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// internalAuth valida el token compartido de los endpoints del PBX.
func (s *Server) internalAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.InternalToken == "" || r.Header.Get("X-Internal-Token") != s.cfg.InternalToken {
			respondError(w, http.StatusUnauthorized, "invalid internal token")
			return
		}
		next(w, r)
	}
}

// --- Handlers públicos ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"pending": s.engine.Pending().Count(),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.repo.GetUserByUsername(req.Username)
	if err != nil {
		log.Printf("[API] Error buscando usuario %s: %v", req.Username, err)
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if user == nil || !user.Active || !auth.CheckPassword(req.Password, user.PasswordHash) {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := auth.GenerateToken(user.Username, user.Role)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"token": token, "role": user.Role})
}

// --- Handlers de operación ---

// handleRoute prueba una decisión de admisión desde la consola de
// operación. Salvo que keep sea true, el cupo reservado se libera al toque
// reportando un resultado fallido, así la prueba no ocupa el link.
func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		DID    string `json:"did"`
		CallID string `json:"call_id"`
		Keep   bool   `json:"keep"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DID == "" {
		respondError(w, http.StatusBadRequest, "did is required")
		return
	}
	if req.CallID == "" {
		req.CallID = fmt.Sprintf("api-probe-%d", time.Now().UnixNano())
	}

	adm, err := s.engine.Decide(req.CallID, req.DID)
	if err != nil {
		log.Printf("[API] Error en decisión de prueba %s: %v", req.CallID, err)
		respondError(w, http.StatusServiceUnavailable, "decision unavailable")
		return
	}

	if !adm.Admitted {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"admitted":      false,
			"call_id":       req.CallID,
			"reject_reason": adm.RejectReason,
		})
		return
	}

	released := false
	if !req.Keep {
		if err := s.recorder.RecordOutcome(recorder.Outcome{CallID: req.CallID, Outcome: "failed"}); err != nil {
			log.Printf("[API] Error liberando prueba %s: %v", req.CallID, err)
		} else {
			released = true
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"admitted":     true,
		"call_id":      req.CallID,
		"link_id":      adm.Link.ID,
		"client":       adm.Link.ClientIdentifier,
		"target":       adm.Link.SIPURI,
		"dial_timeout": int(adm.DialTimeout.Seconds()),
		"released":     released,
	})
}

func (s *Server) handleAttempts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	var campaignID *int64
	if v := r.URL.Query().Get("campaign_id"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			campaignID = &n
		}
	}

	attempts, err := s.repo.RecentAttempts(campaignID, limit)
	if err != nil {
		log.Printf("[API] Error listando intentos: %v", err)
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"attempts": attempts})
}

// handleLinks lista los links de una campaña con su configuración y la
// concurrencia en vivo. Sin campaign_id devuelve solo los contadores.
func (s *Server) handleLinks(w http.ResponseWriter, r *http.Request) {
	if v := r.URL.Query().Get("campaign_id"); v != "" {
		campaignID, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid campaign_id")
			return
		}
		settings, err := s.repo.LinkSettingsByCampaign(campaignID)
		if err != nil {
			log.Printf("[API] Error listando links de campaña %d: %v", campaignID, err)
			respondError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		links := make([]map[string]interface{}, 0, len(settings))
		for _, l := range settings {
			links = append(links, map[string]interface{}{
				"link_id":             l.ID,
				"client":              l.ClientIdentifier,
				"priority":            l.ForwardingPriority,
				"weight":              l.Weight,
				"max_concurrency":     l.MaxConcurrency,
				"concurrency":         s.engine.Tracker().CurrentCount(l.ID),
				"total_calls_allowed": l.TotalCallsAllowed,
				"current_total_calls": l.CurrentTotalCalls,
			})
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{"links": links})
		return
	}

	counts := s.engine.Tracker().Counts()
	links := make([]map[string]interface{}, 0, len(counts))
	for linkID, count := range counts {
		links = append(links, map[string]interface{}{
			"link_id":     linkID,
			"concurrency": count,
		})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"links": links})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts := s.engine.Tracker().Counts()
	total := 0
	for _, c := range counts {
		total += c
	}
	stats := map[string]interface{}{
		"active_calls":     total,
		"pending_attempts": s.engine.Pending().Count(),
		"concurrency":      counts,
	}
	websocket.NotifyStats(counts, s.engine.Pending().Count())
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := s.repo.ListCampaigns()
	if err != nil {
		log.Printf("[API] Error listando campañas: %v", err)
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"campaigns": campaigns})
}

// --- Helpers ---

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[API] Error serializando respuesta: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
