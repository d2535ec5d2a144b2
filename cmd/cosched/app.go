package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cosched/cosched/internal/availability"
	"github.com/cosched/cosched/internal/calendar"
	"github.com/cosched/cosched/internal/credential"
	"github.com/cosched/cosched/internal/mail"
	"github.com/cosched/cosched/internal/model"
	"github.com/cosched/cosched/internal/negotiation"
	"github.com/cosched/cosched/internal/poll"
	"github.com/cosched/cosched/internal/store"
	"github.com/cosched/cosched/internal/transport"
)

// app bundles the wired-up components a command needs. Build one per
// invocation and Close it when done.
type app struct {
	cfg         *model.AppConfig
	identity    model.AgentIdentity
	store       *store.SQLiteStore
	transport   *transport.Transport
	coordinator *negotiation.Coordinator
	poller      *poll.Poller
	contextPath string
}

// buildApp loads the config and wires the full agent: mail service,
// transport, local calendar store, availability engine, coordinator, and
// the polling loop.
func buildApp() (*app, error) {
	cfg, err := model.LoadConfig(configFlag)
	if err != nil {
		return nil, err
	}

	identity, err := cfg.Identity()
	if err != nil {
		return nil, fmt.Errorf("building agent identity (set mail.username or agent.address in %s): %w", configFlag, err)
	}

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir %s: %w", cfg.StateDir, err)
	}

	password, err := credential.MailPassword(cfg.Mail.Username, cfg.Mail.Password)
	if err != nil {
		return nil, fmt.Errorf("mail password (run `cosched config set-password`): %w", err)
	}

	svc := mail.NewIMAPService(
		cfg.Mail.IMAPHost, cfg.Mail.IMAPPort,
		cfg.Mail.SMTPHost, cfg.Mail.SMTPPort,
		cfg.Mail.Username, password,
		cfg.Mail.UseTLS,
	)

	tr, err := transport.New(svc, identity, filepath.Join(cfg.StateDir, "processed.json"))
	if err != nil {
		return nil, err
	}

	db, err := store.NewSQLiteStore(filepath.Join(cfg.StateDir, "cosched.db"))
	if err != nil {
		return nil, err
	}

	cal := calendar.NewLocal(db)
	engine := availability.NewEngine(cal, cfg.Preferences)
	coordinator := negotiation.New(identity, cfg.Preferences, tr, engine, cal, db)

	interval := time.Duration(cfg.PollIntervalSec) * time.Second
	poller := poll.New(coordinator, tr, interval)

	return &app{
		cfg:         cfg,
		identity:    identity,
		store:       db,
		transport:   tr,
		coordinator: coordinator,
		poller:      poller,
		contextPath: filepath.Join(cfg.StateDir, "context.yaml"),
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
