package fastagi

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"time"
)

// Session representa una conexión AGI del PBX. El protocolo es de texto:
// el PBX manda las variables agi_* al conectar, después cada comando
// nuestro recibe una respuesta "200 result=...".
type Session struct {
	conn   net.Conn
	reader *bufio.Reader
	vars   map[string]string
}

// NewSession envuelve la conexión y lee el bloque inicial de variables.
func NewSession(conn net.Conn) (*Session, error) {
	s := &Session{
		conn:   conn,
		reader: bufio.NewReader(conn),
		vars:   make(map[string]string),
	}
	if err := s.readEnv(); err != nil {
		return nil, err
	}
	return s, nil
}

// readEnv lee las variables agi_* hasta la línea en blanco.
func (s *Session) readEnv() error {
	s.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	defer s.conn.SetReadDeadline(time.Time{})

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("error leyendo variables AGI: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return nil
		}
		if idx := strings.Index(line, ":"); idx > 0 {
			key := strings.TrimSpace(line[:idx])
			value := strings.TrimSpace(line[idx+1:])
			s.vars[key] = value
		}
	}
}

// Env devuelve una variable agi_* del bloque inicial.
func (s *Session) Env(key string) string {
	return s.vars[key]
}

// UniqueID devuelve el identificador de canal del PBX.
func (s *Session) UniqueID() string {
	return s.vars["agi_uniqueid"]
}

// DID devuelve el número marcado, con fallback a la extensión.
func (s *Session) DID() string {
	if did := s.vars["agi_dnid"]; did != "" && did != "unknown" {
		return did
	}
	return s.vars["agi_extension"]
}

// execCommand manda un comando AGI y devuelve la línea de respuesta.
func (s *Session) execCommand(cmd string) (string, error) {
	s.conn.SetDeadline(time.Now().Add(5 * time.Second))
	defer s.conn.SetDeadline(time.Time{})

	if _, err := fmt.Fprintf(s.conn, "%s\n", cmd); err != nil {
		return "", fmt.Errorf("error enviando comando AGI: %w", err)
	}
	line, err := s.reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("error leyendo respuesta AGI: %w", err)
	}
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "200") {
		return line, fmt.Errorf("respuesta AGI inesperada: %s", line)
	}
	return line, nil
}

// SetVariable define una variable de canal en el dialplan.
func (s *Session) SetVariable(name, value string) error {
	_, err := s.execCommand(fmt.Sprintf(`SET VARIABLE %s "%s"`, name, value))
	return err
}

// GetVariable lee una variable de canal. Devuelve "" si no está definida.
func (s *Session) GetVariable(name string) (string, error) {
	resp, err := s.execCommand(fmt.Sprintf("GET VARIABLE %s", name))
	if err != nil {
		return "", err
	}
	// Formato: 200 result=1 (valor)
	start := strings.Index(resp, "(")
	end := strings.LastIndex(resp, ")")
	if start >= 0 && end > start {
		return resp[start+1 : end], nil
	}
	return "", nil
}

// Verbose escribe en el log del PBX.
func (s *Session) Verbose(msg string) error {
	_, err := s.execCommand(fmt.Sprintf(`VERBOSE "%s" 1`, msg))
	return err
}

// Hangup corta el canal.
func (s *Session) Hangup() error {
	_, err := s.execCommand("HANGUP")
	return err
}

// Close cierra la conexión.
func (s *Session) Close() error {
	return s.conn.Close()
}
