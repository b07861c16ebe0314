package mail

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderNewDeviceAlert(t *testing.T) {
	msg, err := RenderNewDeviceAlert(NewDeviceAlert{
		AppName:    "Art des Jardins",
		To:         "owner@example.com",
		FirstName:  "Camille",
		DeviceName: "Firefox on Linux",
		IP:         "8.8.8.8",
		City:       "Nantes",
		Country:    "France",
		SeenAt:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		TrustURL:   "https://api.example.com/api/v1/devices/action/trust?token=t1",
		RevokeURL:  "https://api.example.com/api/v1/devices/action/revoke?token=t2",
	})
	require.NoError(t, err)

	assert.Equal(t, "owner@example.com", msg.To)
	assert.Contains(t, msg.Subject, "Firefox on Linux")
	assert.Contains(t, msg.Text, "Nantes, France")
	assert.Contains(t, msg.Text, "token=t1")
	assert.Contains(t, msg.HTML, "token=t2")
}

func TestRenderReplayAlert(t *testing.T) {
	msg, err := RenderReplayAlert(ReplayAlert{AppName: "X", To: "a@b.c", IP: "1.2.3.4", DetectedAt: time.Now()})
	require.NoError(t, err)
	assert.Contains(t, msg.Text, "1.2.3.4")
	assert.Empty(t, msg.HTML)
}

func TestSMTPSenderBuildsMultipart(t *testing.T) {
	s, err := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", From: "noreply@example.com", FromName: "Alerts"})
	require.NoError(t, err)

	var gotAddr string
	var gotBody []byte
	s.deliver = func(_ context.Context, addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr = addr
		gotBody = msg
		assert.Equal(t, "noreply@example.com", from)
		assert.Equal(t, []string{"a@b.c"}, to)
		return nil
	}

	err = s.Send(context.Background(), Message{To: "a@b.c", Subject: "Hi", Text: "plain", HTML: "<p>rich</p>"})
	require.NoError(t, err)
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	body := string(gotBody)
	assert.True(t, strings.Contains(body, "multipart/alternative"))
	assert.Contains(t, body, "<p>rich</p>")
}

func TestSMTPSenderPropagatesRelayError(t *testing.T) {
	s, err := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", From: "noreply@example.com"})
	require.NoError(t, err)
	s.deliver = func(context.Context, string, smtp.Auth, string, []string, []byte) error {
		return errors.New("535 auth failed")
	}

	err = s.Send(context.Background(), Message{To: "a@b.c", Text: "x"})
	assert.Error(t, err)
}

// fakeRelay accepts one SMTP session on a loopback port and records the
// DATA payload.
func fakeRelay(t *testing.T) (host string, port int, data <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	out := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		reply := func(line string) { _, _ = conn.Write([]byte(line + "\r\n")) }

		reply("220 localhost ESMTP")
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			cmd := strings.ToUpper(strings.TrimSpace(line))
			switch {
			case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
				reply("250 localhost")
			case strings.HasPrefix(cmd, "MAIL FROM"), strings.HasPrefix(cmd, "RCPT TO"):
				reply("250 OK")
			case cmd == "DATA":
				reply("354 go ahead")
				var b strings.Builder
				for {
					l, err := r.ReadString('\n')
					if err != nil {
						return
					}
					if l == ".\r\n" {
						break
					}
					b.WriteString(l)
				}
				out <- b.String()
				reply("250 queued")
			case cmd == "QUIT":
				reply("221 bye")
				return
			default:
				reply("502 unsupported")
			}
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port, out
}

func TestSMTPSenderTalksToRelay(t *testing.T) {
	host, port, data := fakeRelay(t)
	s, err := NewSMTPSender(SMTPConfig{Host: host, Port: port, From: "noreply@example.com", Timeout: 2 * time.Second})
	require.NoError(t, err)

	require.NoError(t, s.Send(context.Background(), Message{To: "a@b.c", Subject: "Hi", Text: "plain body"}))

	select {
	case body := <-data:
		assert.Contains(t, body, "To: a@b.c")
		assert.Contains(t, body, "plain body")
	case <-time.After(2 * time.Second):
		t.Fatal("relay received no message")
	}
}

func TestSMTPSenderTimeoutClosesSession(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	closed := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		// never greet; wait for the client to hang up
		_, _ = bufio.NewReader(conn).ReadString('\n')
		close(closed)
	}()

	addr := ln.Addr().(*net.TCPAddr)
	s, err := NewSMTPSender(SMTPConfig{Host: addr.IP.String(), Port: addr.Port, From: "noreply@example.com", Timeout: 100 * time.Millisecond})
	require.NoError(t, err)

	start := time.Now()
	err = s.Send(context.Background(), Message{To: "a@b.c", Text: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay timeout")
	assert.Less(t, time.Since(start), 2*time.Second)

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("the relay connection outlived the send timeout")
	}
}
