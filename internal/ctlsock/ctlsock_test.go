// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ctlsock

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"greywall.dev/jaild/internal/server"
	"greywall.dev/jaild/internal/transmitter"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	srv := server.New("1.0.0-test")
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Quit(context.Background()) })

	s := New(transmitter.New(srv))
	sockPath := filepath.Join(t.TempDir(), "jaild.sock")
	require.NoError(t, s.Start(sockPath))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s, sockPath
}

func sendCommand(t *testing.T, conn net.Conn, args []string) (int, any) {
	t.Helper()
	payload, err := json.Marshal(args)
	require.NoError(t, err)

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	_, err = conn.Write(lenBuf[:])
	require.NoError(t, err)
	_, err = conn.Write(payload)
	require.NoError(t, err)
	_, err = io.WriteString(conn, EndCommand)
	require.NoError(t, err)

	r := bufio.NewReader(conn)
	var replyLenBuf [4]byte
	_, err = io.ReadFull(r, replyLenBuf[:])
	require.NoError(t, err)
	n := binary.BigEndian.Uint32(replyLenBuf[:])
	reply := make([]byte, n)
	_, err = io.ReadFull(r, reply)
	require.NoError(t, err)
	sentinel := make([]byte, len(EndCommand))
	_, err = io.ReadFull(r, sentinel)
	require.NoError(t, err)
	require.Equal(t, EndCommand, string(sentinel))

	var decoded [2]any
	require.NoError(t, json.Unmarshal(reply, &decoded))
	code, ok := decoded[0].(float64)
	require.True(t, ok)
	return int(code), decoded[1]
}

func TestCtlsockPingRoundTrip(t *testing.T) {
	_, sockPath := newTestServer(t)

	conn, err := net.Dial("unix", sockPath)
	require.NoError(t, err)
	defer conn.Close()

	code, val := sendCommand(t, conn, []string{"ping"})
	require.Equal(t, 0, code)
	require.Equal(t, "pong", val)
}

func TestCtlsockUnknownVerbReportsError(t *testing.T) {
	_, sockPath := newTestServer(t)

	conn, err := net.Dial("unix", sockPath)
	require.NoError(t, err)
	defer conn.Close()

	code, val := sendCommand(t, conn, []string{"frobnicate"})
	require.Equal(t, 1, code)
	require.Contains(t, val, "unknown command")
}

func TestCtlsockMultipleCommandsOnOneConnection(t *testing.T) {
	_, sockPath := newTestServer(t)

	conn, err := net.Dial("unix", sockPath)
	require.NoError(t, err)
	defer conn.Close()

	code, _ := sendCommand(t, conn, []string{"add", "sshd", "polling"})
	require.Equal(t, 0, code)

	code, val := sendCommand(t, conn, []string{"status", "sshd"})
	require.Equal(t, 0, code)
	require.NotNil(t, val)
}

func TestCtlsockCloseCommand(t *testing.T) {
	_, sockPath := newTestServer(t)

	conn, err := net.Dial("unix", sockPath)
	require.NoError(t, err)
	defer conn.Close()

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(CloseCommand)))
	_, err = conn.Write(lenBuf[:])
	require.NoError(t, err)
	_, err = io.WriteString(conn, CloseCommand)
	require.NoError(t, err)
	_, err = io.WriteString(conn, EndCommand)
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	require.ErrorIs(t, err, io.EOF)
}
