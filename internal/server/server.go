// Package server accepts SIP2 terminal connections and runs one session
// per connection, alongside the account monitor, in a bounded pool.
package server

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/danmuck/sip2gate/internal/account"
	"github.com/danmuck/sip2gate/internal/backend"
	"github.com/danmuck/sip2gate/internal/config"
	logs "github.com/danmuck/sip2gate/internal/logging"
	"github.com/danmuck/sip2gate/internal/monitor"
	"github.com/danmuck/sip2gate/internal/observability"
	"github.com/danmuck/sip2gate/internal/session"
)

var ErrMonitorDied = errors.New("server: account monitor stopped")

// Watcher is the account monitor as the dispatcher sees it.
type Watcher interface {
	Run(ctx context.Context) error
	Queue() *monitor.Queue
}

type Option func(*Server)

// WithClientFactory replaces the HTTP backend client sessions use.
func WithClientFactory(f session.ClientFactory) Option {
	return func(s *Server) {
		s.newClient = f
	}
}

// WithWatcher replaces the file-backed account monitor.
func WithWatcher(w Watcher) Option {
	return func(s *Server) {
		s.watcher = w
	}
}

type Server struct {
	cfg       config.Config
	accounts  *account.Store
	watcher   Watcher
	newClient session.ClientFactory

	pool     pool
	shutdown atomic.Bool
	ready    atomic.Bool
	nextID   atomic.Uint64
	sessions atomic.Int64
	fatal    atomic.Bool
}

var _ observability.Status = (*Server)(nil)

func New(cfg config.Config, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		accounts: account.NewStore(cfg.Table()),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.newClient == nil {
		url, timeout := cfg.Backend.URL, cfg.Backend.Timeout
		s.newClient = func(trace string) backend.Client {
			return backend.NewHTTPClient(url, timeout, backend.WithTraceID(trace))
		}
	}
	if s.watcher == nil {
		s.watcher = monitor.New(monitor.ConfigFrom(cfg), cfg.Accounts, monitor.NewQueue())
	}
	return s
}

// Accounts is the live account store.
func (s *Server) Accounts() *account.Store {
	return s.accounts
}

// Shutdown asks the accept loop and every session to stop.
func (s *Server) Shutdown() {
	s.shutdown.Store(true)
}

func (s *Server) Ready() bool {
	return s.ready.Load() && !s.shutdown.Load()
}

func (s *Server) ActiveSessions() int {
	return int(s.sessions.Load())
}

func (s *Server) MaxClients() int {
	return s.cfg.Server.MaxClients
}

func (s *Server) AccountNames() []string {
	return s.accounts.Load().Usernames()
}

// Serve binds listen_addr and the optional admin address, then runs
// until shutdown.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.ListenAddr)
	if err != nil {
		return err
	}

	if addr := strings.TrimSpace(s.cfg.Server.AdminAddr); addr != "" {
		adminLn, err := net.Listen("tcp", addr)
		if err != nil {
			_ = ln.Close()
			return err
		}
		adminCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		admin := observability.NewAdmin(s, s.cfg.Server.AdminCORSOrigins)
		go func() {
			logs.Infof("server.Server.Serve admin listening addr=%q", adminLn.Addr().String())
			if err := admin.Serve(adminCtx, adminLn); err != nil {
				logs.Errorf("server.Server.Serve admin err=%v", err)
			}
		}()
	}

	return s.ServeListener(ctx, ln)
}

// ServeListener runs the accept loop on ln. It returns after shutdown
// once every session has ended. The error is ErrMonitorDied when the
// monitor went away without being asked to.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	observability.RegisterMetrics()

	monCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()
	queue := s.watcher.Queue()
	s.pool.Go(func() {
		if err := s.watcher.Run(monCtx); err != nil {
			logs.Errorf("server.Server.ServeListener monitor err=%v", err)
		}
	})

	logs.Infof("server.Server.ServeListener listening addr=%q max_clients=%d", ln.Addr().String(), s.cfg.Server.MaxClients)
	s.ready.Store(true)
	defer s.ready.Store(false)

	tcp, _ := ln.(*net.TCPListener)
	poll := s.cfg.Server.AcceptPoll
	if poll <= 0 {
		poll = time.Second
	}

	for !s.shutdown.Load() {
		if ctx.Err() != nil {
			logs.Infof("server.Server.ServeListener context done")
			s.shutdown.Store(true)
			break
		}

		if tcp != nil {
			_ = tcp.SetDeadline(time.Now().Add(poll))
		}
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.shutdown.Store(true)
				break
			}
			if !isTimeout(err) {
				logs.Warnf("server.Server.ServeListener accept err=%v", err)
			}
		} else {
			s.admit(ctx, conn)
		}

		s.drain(queue)
	}

	logs.Infof("server.Server.ServeListener stopping sessions=%d", s.ActiveSessions())
	_ = ln.Close()
	stopMonitor()
	s.pool.Wait()
	s.drain(queue)
	logs.Infof("server.Server.ServeListener stopped")

	if s.fatal.Load() {
		return ErrMonitorDied
	}
	return nil
}

// admit starts a session for conn, or closes it when every slot is taken.
// One slot belongs to the monitor.
func (s *Server) admit(ctx context.Context, conn net.Conn) {
	workers := s.pool.Workers()
	// workers already includes the monitor, so this admits max_clients sessions.
	if workers >= s.cfg.Server.MaxClients+1 {
		logs.Warnf("server.Server.admit rejecting peer=%s workers=%d max_clients=%d", conn.RemoteAddr(), workers, s.cfg.Server.MaxClients)
		observability.RecordConnection(false)
		_ = conn.Close()
		return
	}
	observability.RecordConnection(true)

	id := s.nextID.Add(1)
	cfg := session.Config{
		RecvTimeout:         s.cfg.Server.RecvTimeout,
		SCStatusBeforeLogin: s.cfg.Server.SCStatusBeforeLogin,
		Framing:             s.cfg.Server.Framing,
	}
	sess := session.New(id, conn, cfg, s.accounts, s.newClient, &s.shutdown)
	s.pool.Go(func() {
		s.sessions.Add(1)
		defer s.sessions.Add(-1)
		observability.SessionStarted()
		defer observability.SessionEnded()
		if err := sess.Run(ctx); err != nil {
			logs.Warnf("server.Server.session sesid=%d err=%v", id, err)
		}
	})
}

// drain applies every queued monitor event without blocking.
func (s *Server) drain(queue *monitor.Queue) {
	for {
		ev, err := queue.TryRecv()
		if errors.Is(err, monitor.ErrEmpty) {
			return
		}
		if errors.Is(err, monitor.ErrDisconnected) {
			if !s.shutdown.Load() {
				logs.Errorf("server.Server.drain account monitor disconnected, shutting down")
				s.fatal.Store(true)
				s.shutdown.Store(true)
			}
			return
		}
		s.apply(ev)
	}
}

func (s *Server) apply(ev monitor.Event) {
	observability.RecordMonitorEvent(ev.Action.String())
	switch ev.Action {
	case monitor.ActionAddAccount:
		s.accounts.Publish(s.accounts.Load().With(ev.Account))
		logs.Infof("server.Server.apply add_account username=%q", ev.Account.Username)
	case monitor.ActionDisableAccount:
		s.accounts.Publish(s.accounts.Load().Without(ev.Username))
		logs.Infof("server.Server.apply disable_account username=%q", ev.Username)
	case monitor.ActionShutdown:
		logs.Warnf("server.Server.apply shutdown requested")
		s.shutdown.Store(true)
	default:
		logs.Warnf("server.Server.apply unknown action=%s", ev.Action)
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
