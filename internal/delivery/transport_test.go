package delivery

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// scriptedSMTP is a minimal plaintext SMTP server for one session. It
// advertises no extensions, so the client neither upgrades to TLS nor
// authenticates.
type scriptedSMTP struct {
	ln net.Listener

	mu   sync.Mutex
	data strings.Builder
}

func startScriptedSMTP(t *testing.T) *scriptedSMTP {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := &scriptedSMTP{ln: ln}
	t.Cleanup(func() { _ = ln.Close() })
	go s.serve()
	return s
}

func (s *scriptedSMTP) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *scriptedSMTP) received() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.String()
}

func (s *scriptedSMTP) serve() {
	conn, err := s.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	br := bufio.NewReader(conn)
	fmt.Fprintf(conn, "220 scripted test server\r\n")
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.ToUpper(strings.TrimSpace(line))
		switch {
		case strings.HasPrefix(cmd, "EHLO"):
			fmt.Fprintf(conn, "250-localhost\r\n250 8BITMIME\r\n")
		case strings.HasPrefix(cmd, "HELO"):
			fmt.Fprintf(conn, "250 localhost\r\n")
		case strings.HasPrefix(cmd, "MAIL"), strings.HasPrefix(cmd, "RCPT"):
			fmt.Fprintf(conn, "250 ok\r\n")
		case strings.HasPrefix(cmd, "DATA"):
			fmt.Fprintf(conn, "354 end with .\r\n")
			for {
				dl, err := br.ReadString('\n')
				if err != nil {
					return
				}
				if dl == ".\r\n" {
					break
				}
				s.mu.Lock()
				s.data.WriteString(dl)
				s.mu.Unlock()
			}
			fmt.Fprintf(conn, "250 accepted\r\n")
		case strings.HasPrefix(cmd, "QUIT"):
			fmt.Fprintf(conn, "221 bye\r\n")
			return
		default:
			fmt.Fprintf(conn, "250 ok\r\n")
		}
	}
}

func TestSMTPSendDeliversMessage(t *testing.T) {
	t.Parallel()
	srv := startScriptedSMTP(t)

	tr, err := NewSMTP(SMTPConfig{
		Host: "127.0.0.1",
		Port: srv.port(),
		From: "news@example.com",
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tr.Send(ctx, "reader@example.com", "daily digest", "hello reader"); err != nil {
		t.Fatal(err)
	}

	got := srv.received()
	for _, want := range []string{
		"From: news@example.com",
		"To: reader@example.com",
		"Subject: daily digest",
		"hello reader",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("message missing %q:\n%s", want, got)
		}
	}
}

func TestSMTPSendBoundedBySilentServer(t *testing.T) {
	t.Parallel()

	// Accepts the connection but never sends a greeting.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = bufio.NewReader(conn).ReadString('\n')
	}()

	tr, err := NewSMTP(SMTPConfig{
		Host: "127.0.0.1",
		Port: ln.Addr().(*net.TCPAddr).Port,
		From: "news@example.com",
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = tr.Send(ctx, "reader@example.com", "subject", "body")
	if err == nil {
		t.Fatal("want error from silent server")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("send not bounded by ctx deadline, took %v", elapsed)
	}
}
