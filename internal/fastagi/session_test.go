package fastagi

import (
	"net"
	"testing"
)

func newSessionWithEnv(t *testing.T, env string) *Session {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})

	go func() {
		client.Write([]byte(env))
	}()

	s, err := NewSession(server)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}

func TestSessionParsesEnv(t *testing.T) {
	env := "agi_request: agi://127.0.0.1\n" +
		"agi_uniqueid: 1693526400.123\n" +
		"agi_dnid: 18005551234\n" +
		"agi_extension: s\n" +
		"\n"
	s := newSessionWithEnv(t, env)

	if got := s.UniqueID(); got != "1693526400.123" {
		t.Fatalf("UniqueID = %q", got)
	}
	if got := s.DID(); got != "18005551234" {
		t.Fatalf("DID = %q, want dnid", got)
	}
	if got := s.Env("agi_request"); got != "agi://127.0.0.1" {
		t.Fatalf("Env(agi_request) = %q", got)
	}
}

func TestSessionDIDFallsBackToExtension(t *testing.T) {
	env := "agi_uniqueid: 1.1\n" +
		"agi_dnid: unknown\n" +
		"agi_extension: 18005559999\n" +
		"\n"
	s := newSessionWithEnv(t, env)

	if got := s.DID(); got != "18005559999" {
		t.Fatalf("DID = %q, want extension fallback", got)
	}
}

func TestSessionCommandRoundTrip(t *testing.T) {
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})

	go func() {
		client.Write([]byte("agi_uniqueid: 1.1\n\n"))
		buf := make([]byte, 256)
		n, _ := client.Read(buf)
		if string(buf[:n]) == "GET VARIABLE DIALSTATUS\n" {
			client.Write([]byte("200 result=1 (ANSWERED)\n"))
		}
	}()

	s, err := NewSession(server)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	val, err := s.GetVariable("DIALSTATUS")
	if err != nil {
		t.Fatalf("GetVariable: %v", err)
	}
	if val != "ANSWERED" {
		t.Fatalf("GetVariable = %q, want ANSWERED", val)
	}
}
