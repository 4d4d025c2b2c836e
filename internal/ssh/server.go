// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package ssh serves jaild's read-only dashboard (internal/tui) over an
// SSH connection using Wish, grounded on the teacher's wish-based admin
// console in this same package. Authentication is by authorized public
// key only — there is no password path and no write access: a connected
// session can only watch jail status, never ban or unban anything.
package ssh

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	bm "github.com/charmbracelet/wish/bubbletea"
	wishlog "github.com/charmbracelet/wish/logging"
	gossh "golang.org/x/crypto/ssh"

	"greywall.dev/jaild/internal/config"
	"greywall.dev/jaild/internal/logging"
	"greywall.dev/jaild/internal/tui"
)

var log = logging.WithComponent("ssh")

// Server wraps a Wish SSH server exposing the jail dashboard.
type Server struct {
	srv     *ssh.Server
	backend tui.Backend
	addr    string
}

// NewServer builds an SSH server bound to cfg's listen address, serving
// backend's dashboard to clients whose public key is in
// cfg.AuthorizedKeys.
func NewServer(cfg *config.SSHConfig, backend tui.Backend) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("ssh configuration is nil")
	}

	addr := cfg.Listen
	if addr == "" {
		addr = ":2222"
	}

	authorized, err := parseAuthorizedKeys(cfg.AuthorizedKeys)
	if err != nil {
		return nil, fmt.Errorf("parsing authorized_keys: %w", err)
	}

	srv := &Server{addr: addr, backend: backend}

	publicKeyHandler := func(ctx ssh.Context, key ssh.PublicKey) bool {
		for _, k := range authorized {
			if ssh.KeysEqual(key, k) {
				log.Info("ssh session authorized", "user", ctx.User())
				return true
			}
		}
		log.Warn("ssh session rejected: unrecognized public key", "user", ctx.User())
		return false
	}

	ws, err := wish.NewServer(
		wish.WithAddress(addr),
		wish.WithHostKeyPath(cfg.HostKeyPath),
		wish.WithPublicKeyAuth(publicKeyHandler),
		wish.WithMiddleware(
			bm.Middleware(srv.teaHandler),
			wishlog.MiddlewareWithLogger(newAdapter()),
		),
	)
	if err != nil {
		return nil, err
	}

	srv.srv = ws
	return srv, nil
}

func (s *Server) teaHandler(sess ssh.Session) (tea.Model, []tea.ProgramOption) {
	pty, _, active := sess.Pty()
	if !active {
		return nil, nil
	}
	m := tui.NewModel(s.backend)
	m.Width = pty.Window.Width
	m.Height = pty.Window.Height
	return m, []tea.ProgramOption{tea.WithAltScreen()}
}

// Start begins serving in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	log.Info("starting ssh dashboard", "addr", s.addr)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != ssh.ErrServerClosed {
			log.Error("ssh server error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the server down, bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	log.Info("stopping ssh dashboard")
	return s.srv.Shutdown(ctx)
}

// adapter routes Wish's internal logs into jaild's structured logger.
type adapter struct{}

func newAdapter() *adapter { return &adapter{} }

func (a *adapter) Printf(format string, args ...interface{}) {
	log.Debug(fmt.Sprintf("[ssh] "+format, args...))
}

func (a *adapter) Write(p []byte) (n int, err error) {
	log.Debug("[ssh] " + string(p))
	return len(p), nil
}

func parseAuthorizedKeys(lines []string) ([]ssh.PublicKey, error) {
	keys := make([]ssh.PublicKey, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		key, _, _, _, err := gossh.ParseAuthorizedKey([]byte(line))
		if err != nil {
			return nil, fmt.Errorf("parsing authorized key %q: %w", line, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}
