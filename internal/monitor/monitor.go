// Package monitor watches the account source and tells the dispatcher
// about account changes and shutdown requests.
//
// The monitor keeps its own record of the accounts it last saw and never
// reads the dispatcher's live table. Events flow one way through a Queue.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/sip2gate/internal/account"
	"github.com/danmuck/sip2gate/internal/config"
	logs "github.com/danmuck/sip2gate/internal/logging"
	"github.com/robfig/cron/v3"
)

type Action int

const (
	ActionAddAccount Action = iota + 1
	ActionDisableAccount
	ActionShutdown
)

func (a Action) String() string {
	switch a {
	case ActionAddAccount:
		return "add_account"
	case ActionDisableAccount:
		return "disable_account"
	case ActionShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Event is one monitor notification. Account is set for AddAccount,
// Username for DisableAccount.
type Event struct {
	Action   Action
	Account  account.Account
	Username string
}

func AddAccount(a account.Account) Event {
	return Event{Action: ActionAddAccount, Account: a, Username: a.Username}
}

func DisableAccount(username string) Event {
	return Event{Action: ActionDisableAccount, Username: username}
}

func Shutdown() Event {
	return Event{Action: ActionShutdown}
}

type Config struct {
	AccountsFile string
	ShutdownFile string
	Interval     time.Duration
}

func ConfigFrom(cfg config.Config) Config {
	return Config{
		AccountsFile: cfg.AccountsSource(),
		ShutdownFile: cfg.Monitor.ShutdownFile,
		Interval:     cfg.Monitor.PollInterval,
	}
}

type Monitor struct {
	cfg   Config
	queue *Queue
	load  func(path string) ([]account.Account, error)

	mu           sync.Mutex
	lastSeen     map[string]account.Account
	shutdownSent bool
}

// New builds a monitor whose baseline is initial, the accounts the
// dispatcher started with.
func New(cfg Config, initial []account.Account, queue *Queue) *Monitor {
	m := &Monitor{
		cfg:      cfg,
		queue:    queue,
		load:     config.LoadAccounts,
		lastSeen: make(map[string]account.Account, len(initial)),
	}
	for _, a := range initial {
		if a.Enabled {
			m.lastSeen[a.Username] = a
		}
	}
	return m
}

func (m *Monitor) Queue() *Queue {
	return m.queue
}

// Run polls on the configured interval until ctx is done, then closes
// the queue.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.queue.Close()

	interval := m.cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	c := cron.New(
		cron.WithLogger(cronLogger{}),
		cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})),
	)
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", interval), m.Poll); err != nil {
		return fmt.Errorf("monitor schedule: %w", err)
	}
	logs.Infof("monitor.Monitor.Run accounts=%q shutdown_file=%q interval=%s", m.cfg.AccountsFile, m.cfg.ShutdownFile, interval)

	m.Poll()
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	logs.Infof("monitor.Monitor.Run stopped")
	return nil
}

// Poll runs one check of the shutdown trigger and the account source.
func (m *Monitor) Poll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.checkShutdown()
	if m.cfg.AccountsFile == "" {
		return
	}

	accounts, err := m.load(m.cfg.AccountsFile)
	if err != nil {
		logs.Errorf("monitor.Monitor.Poll accounts=%q err=%v", m.cfg.AccountsFile, err)
		return
	}
	for _, ev := range m.diff(accounts) {
		logs.Infof("monitor.Monitor.Poll action=%s username=%q", ev.Action, ev.Username)
		m.queue.Push(ev)
	}
}

func (m *Monitor) checkShutdown() {
	if m.shutdownSent || m.cfg.ShutdownFile == "" {
		return
	}
	_, err := os.Stat(m.cfg.ShutdownFile)
	if err == nil {
		logs.Warnf("monitor.Monitor.checkShutdown trigger=%q", m.cfg.ShutdownFile)
		m.shutdownSent = true
		m.queue.Push(Shutdown())
		return
	}
	if !errors.Is(err, os.ErrNotExist) {
		logs.Warnf("monitor.Monitor.checkShutdown trigger=%q err=%v", m.cfg.ShutdownFile, err)
	}
}

// diff compares accounts against the last-seen set, updates it and
// returns the resulting events ordered by username.
func (m *Monitor) diff(accounts []account.Account) []Event {
	next := make(map[string]account.Account, len(accounts))
	for _, a := range accounts {
		if a.Enabled {
			next[a.Username] = a
		}
	}

	var events []Event
	for _, name := range sortedKeys(next) {
		cur := next[name]
		if prev, ok := m.lastSeen[name]; !ok || prev != cur {
			events = append(events, AddAccount(cur))
		}
	}
	for _, name := range sortedKeys(m.lastSeen) {
		if _, ok := next[name]; !ok {
			events = append(events, DisableAccount(name))
		}
	}
	m.lastSeen = next
	return events
}

func sortedKeys(in map[string]account.Account) []string {
	out := make([]string, 0, len(in))
	for k := range in {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	logs.Debugf("monitor.cron msg=%q kv=%v", msg, keysAndValues)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	logs.Errorf("monitor.cron msg=%q err=%v kv=%v", msg, err, keysAndValues)
}
