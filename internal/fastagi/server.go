package fastagi

import (
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"callgate/internal/engine"
	"callgate/internal/recorder"
	"callgate/internal/websocket"
)

// Valores de ROUTE_STATUS que lee el dialplan.
const (
	StatusAdmitted = "ADMITTED"
	StatusRejected = "REJECTED"
	StatusError    = "ERROR"
)

// Server atiende las consultas FastAGI del PBX: una conexión por llamada
// entrante, decide la admisión y deja el veredicto en variables de canal.
type Server struct {
	addr     string
	engine   *engine.Engine
	recorder *recorder.Recorder

	mu       sync.Mutex
	running  bool
	listener net.Listener
	wg       sync.WaitGroup
}

// NewServer crea el servidor FastAGI.
func NewServer(addr string, eng *engine.Engine, rec *recorder.Recorder) *Server {
	return &Server{addr: addr, engine: eng, recorder: rec}
}

// Start abre el listener y atiende conexiones en background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("error abriendo listener FastAGI en %s: %w", s.addr, err)
	}
	s.listener = ln
	s.running = true

	s.wg.Add(1)
	go s.acceptLoop()

	log.Printf("[FastAGI] Servidor escuchando en %s", s.addr)
	return nil
}

// Stop cierra el listener y espera a las conexiones en curso.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.listener.Close()
	s.mu.Unlock()

	s.wg.Wait()
	log.Println("[FastAGI] Servidor detenido")
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			running := s.running
			s.mu.Unlock()
			if !running {
				return
			}
			log.Printf("[FastAGI] Error aceptando conexión: %v", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[FastAGI] Pánico atendiendo conexión: %v", r)
		}
	}()

	session, err := NewSession(conn)
	if err != nil {
		log.Printf("[FastAGI] Error iniciando sesión: %v", err)
		return
	}
	s.route(session)
}

// route decide la admisión de la llamada de la sesión y deja el veredicto
// en variables de canal para que el dialplan haga el Dial (o corte).
func (s *Server) route(session *Session) {
	callID := session.UniqueID()
	if callID == "" {
		callID = uuid.New().String()
	}
	did := session.DID()
	if did == "" {
		log.Printf("[FastAGI] Llamada %s sin DID, rechazada", callID)
		session.SetVariable("ROUTE_STATUS", StatusRejected)
		session.SetVariable("ROUTE_REJECT_REASON", engine.RejectNoCampaign)
		return
	}

	started := time.Now()
	adm, err := s.engine.Decide(callID, did)
	if err != nil {
		// Settings ilegibles: ante la duda, cerrado.
		log.Printf("[FastAGI] Error decidiendo %s: %v", callID, err)
		session.SetVariable("ROUTE_STATUS", StatusError)
		session.Verbose(fmt.Sprintf("callgate: decision error for %s", callID))
		return
	}

	if !adm.Admitted {
		session.SetVariable("ROUTE_STATUS", StatusRejected)
		session.SetVariable("ROUTE_REJECT_REASON", adm.RejectReason)
		if err := s.recorder.RecordRejection(adm, did, started); err != nil {
			log.Printf("[FastAGI] Error registrando rechazo %s: %v", callID, err)
		}
		return
	}

	session.SetVariable("ROUTE_STATUS", StatusAdmitted)
	session.SetVariable("ROUTE_CALL_ID", callID)
	session.SetVariable("ROUTE_LINK_ID", fmt.Sprintf("%d", adm.Link.ID))
	session.SetVariable("ROUTE_CLIENT", adm.Link.ClientIdentifier)
	session.SetVariable("ROUTE_TARGET", adm.Link.SIPURI)
	session.SetVariable("ROUTE_DIAL_TIMEOUT", fmt.Sprintf("%d", int(adm.DialTimeout.Seconds())))
	session.Verbose(fmt.Sprintf("callgate: %s -> link %d (%s)", callID, adm.Link.ID, adm.Link.ClientIdentifier))

	websocket.NotifyAdmission(callID, adm.Link.ID, adm.Link.ClientIdentifier, adm.Campaign.ID)
}
