package smtptest

import (
	"bufio"
	"encoding/base64"
	"errors"
	"net"
	"strings"
	"testing"
	"time"
)

// dial opens a raw protocol connection to the server and consumes the greeting.
func dial(t *testing.T, s *Server) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", s.listener.Addr().String(), 5*time.Second)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	conn.SetDeadline(time.Now().Add(10 * time.Second))
	reader := bufio.NewReader(conn)
	if line := readLine(t, reader); !strings.HasPrefix(line, "220") {
		t.Fatalf("greeting: got %q, want 220", line)
	}
	return conn, reader
}

// readLine reads a line from a buffered reader.
func readLine(t *testing.T, reader *bufio.Reader) string {
	t.Helper()
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("failed to read line: %v", err)
	}
	return strings.TrimRight(line, "\r\n")
}

// readReply reads a possibly multi-line reply and returns all its lines.
func readReply(t *testing.T, reader *bufio.Reader) []string {
	t.Helper()
	var lines []string
	for {
		line := readLine(t, reader)
		lines = append(lines, line)
		if len(line) < 4 || line[3] != '-' {
			return lines
		}
	}
}

// sendCmd sends a command to the server.
func sendCmd(t *testing.T, conn net.Conn, cmd string) {
	t.Helper()
	if _, err := conn.Write([]byte(cmd + "\r\n")); err != nil {
		t.Fatalf("failed to write command: %v", err)
	}
}

func startServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	s, err := Start(cfg)
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestServer_EHLOCapabilities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		cfg          Config
		wantAuth     bool
		wantStartTLS bool
	}{
		{name: "plain", cfg: Config{}},
		{name: "auth", cfg: Config{Username: "user", Password: "pass"}, wantAuth: true},
		{name: "starttls", cfg: Config{TLS: TLSStartTLS}, wantStartTLS: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := startServer(t, tt.cfg)
			conn, reader := dial(t, s)
			defer conn.Close()

			sendCmd(t, conn, "EHLO client.example.com")
			reply := strings.Join(readReply(t, reader), "\n")

			if got := strings.Contains(reply, "AUTH PLAIN LOGIN"); got != tt.wantAuth {
				t.Errorf("AUTH advertised: got %v, want %v (%q)", got, tt.wantAuth, reply)
			}
			if got := strings.Contains(reply, "STARTTLS"); got != tt.wantStartTLS {
				t.Errorf("STARTTLS advertised: got %v, want %v (%q)", got, tt.wantStartTLS, reply)
			}
			if s.RootCAs() == nil && tt.cfg.TLS != TLSNone {
				t.Error("RootCAs should be set when TLS is enabled")
			}
		})
	}
}

func TestServer_MailTransaction(t *testing.T) {
	t.Parallel()

	s := startServer(t, Config{})
	conn, reader := dial(t, s)
	defer conn.Close()

	steps := []struct {
		cmd  string
		want string
	}{
		{"EHLO client.example.com", "250"},
		{"MAIL FROM:<sender@example.com>", "250"},
		{"RCPT TO:<a@example.com>", "250"},
		{"RCPT TO:<b@example.com>", "250"},
		{"DATA", "354"},
	}
	for _, step := range steps {
		sendCmd(t, conn, step.cmd)
		reply := readReply(t, reader)
		if last := reply[len(reply)-1]; !strings.HasPrefix(last, step.want) {
			t.Fatalf("%s: got %q, want %s", step.cmd, last, step.want)
		}
	}

	sendCmd(t, conn, "Subject: test\r\n\r\n..dot line\r\n.")
	if line := readLine(t, reader); !strings.HasPrefix(line, "250") {
		t.Fatalf("end of data: got %q, want 250", line)
	}

	msgs := s.Messages()
	if len(msgs) != 1 {
		t.Fatalf("Messages: got %d, want 1", len(msgs))
	}
	if msgs[0].From != "sender@example.com" {
		t.Errorf("From: got %q, want %q", msgs[0].From, "sender@example.com")
	}
	if strings.Join(msgs[0].To, ",") != "a@example.com,b@example.com" {
		t.Errorf("To: got %v", msgs[0].To)
	}
	if !strings.Contains(string(msgs[0].Data), "\r\n.dot line") {
		t.Errorf("Data not dot-unstuffed: %q", msgs[0].Data)
	}
	if s.Sessions() != 1 {
		t.Errorf("Sessions: got %d, want 1", s.Sessions())
	}
}

func TestServer_HooksReject(t *testing.T) {
	t.Parallel()

	s := startServer(t, Config{
		OnMailFrom: func(from string) error {
			if !strings.HasSuffix(from, "@valid.sender") {
				return errors.New("Only user@valid.sender is allowed to send mail")
			}
			return nil
		},
		OnRcptTo: func(to string) error {
			if !strings.HasSuffix(to, "@valid.recipient") {
				return errors.New("Only user@valid.recipient is allowed to receive mail")
			}
			return nil
		},
	})
	conn, reader := dial(t, s)
	defer conn.Close()

	sendCmd(t, conn, "EHLO client.example.com")
	readReply(t, reader)

	sendCmd(t, conn, "MAIL FROM:<test@invalid.sender>")
	if line := readLine(t, reader); !strings.HasPrefix(line, "550") {
		t.Errorf("MAIL FROM invalid: got %q, want 550", line)
	}

	sendCmd(t, conn, "MAIL FROM:<test@valid.sender>")
	if line := readLine(t, reader); !strings.HasPrefix(line, "250") {
		t.Errorf("MAIL FROM valid: got %q, want 250", line)
	}

	sendCmd(t, conn, "RCPT TO:<test@invalid.recipient>")
	if line := readLine(t, reader); !strings.HasPrefix(line, "550") {
		t.Errorf("RCPT TO invalid: got %q, want 550", line)
	}
}

func TestServer_AuthBeforeMailFrom(t *testing.T) {
	t.Parallel()

	s := startServer(t, Config{Username: "testuser", Password: "testpass"})
	conn, reader := dial(t, s)
	defer conn.Close()

	sendCmd(t, conn, "EHLO client.example.com")
	readReply(t, reader)

	sendCmd(t, conn, "MAIL FROM:<sender@example.com>")
	if line := readLine(t, reader); !strings.HasPrefix(line, "530") {
		t.Errorf("MAIL before AUTH: got %q, want 530", line)
	}

	bad := base64.StdEncoding.EncodeToString([]byte("\x00testuser\x00wrong"))
	sendCmd(t, conn, "AUTH PLAIN "+bad)
	if line := readLine(t, reader); !strings.HasPrefix(line, "535") {
		t.Errorf("AUTH PLAIN wrong password: got %q, want 535", line)
	}

	good := base64.StdEncoding.EncodeToString([]byte("\x00testuser\x00testpass"))
	sendCmd(t, conn, "AUTH PLAIN "+good)
	if line := readLine(t, reader); !strings.HasPrefix(line, "235") {
		t.Fatalf("AUTH PLAIN: got %q, want 235", line)
	}

	sendCmd(t, conn, "MAIL FROM:<sender@example.com>")
	if line := readLine(t, reader); !strings.HasPrefix(line, "250") {
		t.Errorf("MAIL after AUTH: got %q, want 250", line)
	}
}

func TestServer_AuthLogin(t *testing.T) {
	t.Parallel()

	s := startServer(t, Config{Username: "testuser", Password: "testpass"})
	conn, reader := dial(t, s)
	defer conn.Close()

	sendCmd(t, conn, "EHLO client.example.com")
	readReply(t, reader)

	sendCmd(t, conn, "AUTH LOGIN")
	if line := readLine(t, reader); line != "334 "+base64.StdEncoding.EncodeToString([]byte("Username:")) {
		t.Fatalf("username challenge: got %q", line)
	}
	sendCmd(t, conn, base64.StdEncoding.EncodeToString([]byte("testuser")))
	if line := readLine(t, reader); line != "334 "+base64.StdEncoding.EncodeToString([]byte("Password:")) {
		t.Fatalf("password challenge: got %q", line)
	}
	sendCmd(t, conn, base64.StdEncoding.EncodeToString([]byte("testpass")))
	if line := readLine(t, reader); !strings.HasPrefix(line, "235") {
		t.Errorf("AUTH LOGIN: got %q, want 235", line)
	}
}
