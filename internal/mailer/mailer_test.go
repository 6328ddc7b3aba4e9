package mailer

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeSMTP runs just enough of the SMTP protocol to accept a single message
// and hands it back over the returned channel.
func fakeSMTP(t *testing.T) (addr string, messages chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	messages = make(chan string, 1)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		w := bufio.NewWriter(conn)
		reply := func(s string) {
			w.WriteString(s + "\r\n")
			w.Flush()
		}
		reply("220 fake.smtp ready")
		var data strings.Builder
		inData := false
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\r\n")
			if inData {
				if line == "." {
					inData = false
					reply("250 OK")
					messages <- data.String()
					continue
				}
				data.WriteString(line + "\n")
				continue
			}
			upper := strings.ToUpper(line)
			switch {
			case strings.HasPrefix(upper, "EHLO"), strings.HasPrefix(upper, "HELO"):
				reply("250 fake.smtp")
			case strings.HasPrefix(upper, "MAIL FROM"):
				reply("250 OK")
			case strings.HasPrefix(upper, "RCPT TO"):
				reply("250 OK")
			case upper == "DATA":
				inData = true
				reply("354 go ahead")
			case upper == "QUIT":
				reply("221 bye")
				return
			default:
				reply("250 OK")
			}
		}
	}()

	return ln.Addr().String(), messages
}

func TestNotifyFileErrorSendsExpectedBody(t *testing.T) {
	addr, messages := fakeSMTP(t)
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	var port int
	fmt.Sscanf(portStr, "%d", &port)

	m := New(Config{Host: host, Port: port}, []string{"ops@example.com"})
	err = m.NotifyFileError("ls8-bpf", "http://example.com/a.tif", "Empty file", "")
	require.NoError(t, err)

	select {
	case msg := <-messages:
		require.Contains(t, msg, "uri: http://example.com/a.tif")
		require.Contains(t, msg, "Empty file")
		require.Contains(t, msg, "Subject: ls8-bpf failure on")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestNotifySkippedWithNoAddresses(t *testing.T) {
	m := New(Config{Host: "127.0.0.1", Port: 1}, nil)
	require.NoError(t, m.NotifyFileError("r", "u", "s", "b"))
	require.NoError(t, m.NotifyProcessFailure("r", 1, ""))
}
