// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/sigil-dev/steward/internal/checks"
	"github.com/sigil-dev/steward/internal/config"
	"github.com/sigil-dev/steward/internal/credentials"
	"github.com/sigil-dev/steward/internal/events"
	"github.com/sigil-dev/steward/internal/gate"
	"github.com/sigil-dev/steward/internal/monitor"
	"github.com/sigil-dev/steward/internal/remediation"
	"github.com/sigil-dev/steward/internal/scheduler"
	"github.com/sigil-dev/steward/internal/server"
	"github.com/sigil-dev/steward/internal/store"
	_ "github.com/sigil-dev/steward/internal/store/sqlite" // register sqlite backend
	stewarderr "github.com/sigil-dev/steward/pkg/errors"
)

// Steward holds all wired subsystems and manages their lifecycle.
type Steward struct {
	Journal    store.Journal
	Bus        *events.Bus
	Controller *remediation.Controller
	Monitor    *monitor.Monitor
	Gate       *gate.Gate
	Scheduler  *scheduler.Scheduler
	Server     *server.Server

	closeOnce sync.Once
}

// Wire creates all subsystems and wires them together.
func Wire(ctx context.Context, cfg *config.Config, secrets credentials.Store) (*Steward, error) {
	journal, err := store.NewJournal(cfg.Storage.Backend, cfg.Storage.DataDir, cfg.Storage.Retain)
	if err != nil {
		return nil, stewarderr.Errorf(stewarderr.CodeCLISetupFailure, "opening journal: %w", err)
	}

	bus := events.NewBus()
	cs := checks.FromConfig(cfg.Checks, journal)

	ctrl := remediation.New(remediation.Config{
		MaxAutoFixAttempts:      cfg.Remediation.MaxAutoFixAttempts,
		CircuitBreakerThreshold: cfg.Remediation.CircuitBreakerThreshold,
		SubsystemPaths:          cfg.Remediation.SubsystemPaths,
	}, checks.Fixers(cs), bus)

	mon, err := monitor.New(monitor.Config{
		Interval:     cfg.Monitor.Interval,
		CheckTimeout: cfg.Monitor.CheckTimeout,
		HistorySize:  cfg.Monitor.HistorySize,
	}, cs, ctrl, bus)
	if err != nil {
		_ = journal.Close()
		return nil, err
	}
	ctrl.SetTicker(mon)

	if snaps, err := journal.RecentSnapshots(ctx, cfg.Monitor.HistorySize); err != nil {
		slog.Warn("could not restore health history from journal", "error", err)
	} else if len(snaps) > 0 {
		mon.Restore(snaps)
		slog.Info("restored health history", "snapshots", len(snaps))
	}

	baseSchema, err := readBaseSchema(cfg.Gate.BaseSchemaFile)
	if err != nil {
		_ = journal.Close()
		return nil, err
	}
	g := gate.New(gate.Config{
		SensitiveKeyLengths: cfg.Gate.SensitiveKeyLengths,
		BaseSchema:          baseSchema,
	}, mon, ctrl)

	creds := credentials.Resolve(secrets, cfg.Credentials)
	sched := scheduler.New(scheduler.Config{
		MaxWorkers:      cfg.Scheduler.MaxWorkers,
		ChildTimeout:    cfg.Scheduler.ChildTimeout,
		ApprovalTTL:     cfg.Scheduler.ApprovalTTL,
		DefaultKind:     gate.Kind(cfg.Scheduler.DefaultKind),
		GuardedBreakers: cfg.Scheduler.GuardedBreakers,
		MinItemsToSplit: cfg.Scheduler.MinItemsToSplit,
		MaxChildren:     cfg.Scheduler.MaxChildren,
		RetainFinished:  cfg.Scheduler.RetainFinished,
	}, scheduler.Deps{
		Gate:        g,
		Breakers:    ctrl,
		Credentials: creds,
		Events:      bus,
	})

	srv, err := server.New(server.Config{
		ListenAddr:  cfg.Server.Listen,
		CORSOrigins: cfg.Server.CORSOrigins,
		RateLimit: server.RateLimitConfig{
			RequestsPerSecond: cfg.Server.RateLimitRPS,
			Burst:             cfg.Server.RateLimitBurst,
		},
	})
	if err != nil {
		sched.Close()
		_ = journal.Close()
		return nil, err
	}
	svc, err := server.NewServices(mon, ctrl, g, sched)
	if err != nil {
		sched.Close()
		_ = srv.Close()
		_ = journal.Close()
		return nil, err
	}
	srv.RegisterServices(svc.WithEvents(bus).WithJournal(journal))

	return &Steward{
		Journal:    journal,
		Bus:        bus,
		Controller: ctrl,
		Monitor:    mon,
		Gate:       g,
		Scheduler:  sched,
		Server:     srv,
	}, nil
}

func readBaseSchema(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", stewarderr.Errorf(stewarderr.CodeCLISetupFailure, "reading base schema %s: %w", path, err)
	}
	return string(b), nil
}

// Run starts the journal recorder, the monitor and the HTTP server, and
// blocks until ctx is cancelled or the server fails. Events published while
// shutting down are still journaled.
func (s *Steward) Run(ctx context.Context) error {
	ch, unsubscribe := s.Bus.Subscribe(256)
	recorded := make(chan struct{})
	go func() {
		defer close(recorded)
		store.NewRecorder(s.Journal).Run(context.WithoutCancel(ctx), ch)
	}()

	err := s.Monitor.Start(ctx)
	if err == nil {
		err = s.Server.Start(ctx)
	}

	s.Monitor.Stop()
	s.Scheduler.Close()
	unsubscribe()
	<-recorded
	s.Close()
	return err
}

// Close stops every subsystem in reverse dependency order. It is idempotent.
func (s *Steward) Close() {
	s.closeOnce.Do(func() {
		s.Monitor.Stop()
		s.Scheduler.Close()
		_ = s.Server.Close()
		s.Bus.Close()
		if err := s.Journal.Close(); err != nil {
			slog.Warn("closing journal", "error", err)
		}
	})
}
