// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command jailctl is a thin client for jaild's control socket: it
// sends one command vector per invocation and prints the reply,
// matching fail2ban-client's role against fail2ban-server.
package main

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"greywall.dev/jaild/internal/ctlsock"
)

func main() {
	socketPath := flag.String("socket", "/var/run/jaild/jaild.sock", "path to jaild's control socket")
	timeout := flag.Duration("timeout", 10*time.Second, "dial and round-trip timeout")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: jailctl [-socket PATH] COMMAND [ARGS...]")
		os.Exit(2)
	}

	code, value, err := send(*socketPath, *timeout, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jailctl: %v\n", err)
		os.Exit(1)
	}

	if s, ok := value.(string); ok {
		fmt.Println(s)
	} else if value != nil {
		b, _ := json.MarshalIndent(value, "", "  ")
		fmt.Println(string(b))
	}

	if code != 0 {
		os.Exit(1)
	}
}

// send dials socketPath, writes one framed command vector, and
// returns the decoded [code, value] reply.
func send(socketPath string, timeout time.Duration, args []string) (int, any, error) {
	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return 0, nil, fmt.Errorf("connecting to %s: %w", socketPath, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	payload, err := json.Marshal(args)
	if err != nil {
		return 0, nil, fmt.Errorf("encoding command: %w", err)
	}
	if err := writeFrame(conn, payload); err != nil {
		return 0, nil, fmt.Errorf("writing command: %w", err)
	}

	reply, err := readFrame(bufio.NewReader(conn))
	if err != nil {
		return 0, nil, fmt.Errorf("reading reply: %w", err)
	}

	var decoded [2]any
	if err := json.Unmarshal(reply, &decoded); err != nil {
		return 0, nil, fmt.Errorf("decoding reply: %w", err)
	}
	code, _ := decoded[0].(float64)
	return int(code), decoded[1], nil
}

// writeFrame and readFrame mirror internal/ctlsock's length-prefixed,
// sentinel-terminated framing exactly; duplicated here rather than
// exported from ctlsock, since only the length/sentinel shape (not the
// server's dispatch internals) is a client concern.
func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	_, err := io.WriteString(w, ctlsock.EndCommand)
	return err
}

func readFrame(r *bufio.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
	}
	sentinel := make([]byte, len(ctlsock.EndCommand))
	if _, err := io.ReadFull(r, sentinel); err != nil {
		return nil, err
	}
	if string(sentinel) != ctlsock.EndCommand {
		return nil, fmt.Errorf("missing end-command sentinel")
	}
	return payload, nil
}
