/*
Copyright the Snaplife contributors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package server runs the scheduled lifecycle daemon: periodic backups,
// retention sweeps, and cross-region replication, with prometheus metrics.
package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/snaplife/snaplife/pkg/backup"
	"github.com/snaplife/snaplife/pkg/buildinfo"
	"github.com/snaplife/snaplife/pkg/cloud"
	"github.com/snaplife/snaplife/pkg/cmd"
	"github.com/snaplife/snaplife/pkg/config"
	"github.com/snaplife/snaplife/pkg/metrics"
	"github.com/snaplife/snaplife/pkg/replication"
	"github.com/snaplife/snaplife/pkg/retention"
	"github.com/snaplife/snaplife/pkg/transfer"
)

func NewCommand(f cmd.Factory) *cobra.Command {
	c := &cobra.Command{
		Use:   "server",
		Short: "Run the snaplife server",
		Long:  "Run the snaplife server",
		Run: func(c *cobra.Command, args []string) {
			cfg, err := f.Config()
			cmd.CheckError(err)
			logger := f.Logger()
			logger.Infof("Starting snaplife server %s (%s)", buildinfo.Version, buildinfo.FormattedGitSHA())

			ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			dialer, err := f.Dialer(ctx)
			cmd.CheckError(err)

			s, err := newServer(logger, cfg, dialer, f.SSHDialer(logger, cfg))
			cmd.CheckError(err)

			cmd.CheckError(s.run(ctx))
		},
	}

	return c
}

type server struct {
	log     logrus.FieldLogger
	cfg     *config.Config
	dialer  cloud.Dialer
	metrics *metrics.ServerMetrics

	backupper    *backup.Backupper
	sweeper      *retention.Sweeper
	orchestrator *replication.Orchestrator
}

func newServer(log logrus.FieldLogger, cfg *config.Config, dialer cloud.Dialer, sshDialer transfer.Dialer) (*server, error) {
	serverMetrics := metrics.NewServerMetrics()

	return &server{
		log:          log,
		cfg:          cfg,
		dialer:       dialer,
		metrics:      serverMetrics,
		backupper:    backup.NewBackupper(log, dialer, cfg, serverMetrics),
		sweeper:      retention.NewSweeper(log, dialer, cfg.Retention, serverMetrics),
		orchestrator: replication.NewOrchestrator(log, dialer, sshDialer, cfg, serverMetrics),
	}, nil
}

func (s *server) run(ctx context.Context) error {
	s.serveMetrics()

	scheduler := cron.New()
	if err := s.schedule(ctx, scheduler); err != nil {
		return err
	}
	scheduler.Start()

	<-ctx.Done()
	s.log.Info("Shutting down")

	// Let in-flight jobs finish; their contexts are already canceled so
	// anything blocked on the cloud API unwinds promptly.
	<-scheduler.Stop().Done()
	return nil
}

func (s *server) serveMetrics() {
	registry := prometheus.NewRegistry()
	s.metrics.RegisterAllMetrics(registry)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	s.log.WithField("address", s.cfg.MetricsAddress).Info("Starting metrics server")
	go func() {
		if err := http.ListenAndServe(s.cfg.MetricsAddress, mux); err != nil {
			s.log.WithError(err).Error("Metrics server exited")
		}
	}()
}

func (s *server) schedule(ctx context.Context, scheduler *cron.Cron) error {
	if expr := s.cfg.Schedule.Backup; expr != "" {
		if _, err := scheduler.AddFunc(expr, func() { s.runBackup(ctx) }); err != nil {
			return err
		}
		s.log.WithField("schedule", expr).Info("Scheduled backup job")
	}
	if expr := s.cfg.Schedule.Trim; expr != "" {
		if _, err := scheduler.AddFunc(expr, func() { s.runTrim(ctx) }); err != nil {
			return err
		}
		s.log.WithField("schedule", expr).Info("Scheduled retention job")
	}
	if expr := s.cfg.Schedule.Replicate; expr != "" {
		if len(s.cfg.Schedule.Pairs) == 0 {
			s.log.Warn("Replication is scheduled but no region pairs are configured")
		}
		if _, err := scheduler.AddFunc(expr, func() { s.runReplication(ctx) }); err != nil {
			return err
		}
		s.log.WithField("schedule", expr).Info("Scheduled replication job")
	}
	return nil
}

func (s *server) runBackup(ctx context.Context) {
	// Volumes inherit their instance's tags first so fresh snapshots
	// carry them.
	if err := s.backupper.CloneInstanceTags(ctx); err != nil {
		s.log.WithError(err).Error("Error cloning instance tags")
	}
	if err := s.backupper.BackupByTag(ctx, "", true); err != nil {
		s.log.WithError(err).Error("Backup run failed")
	}
}

func (s *server) runTrim(ctx context.Context) {
	if err := s.sweeper.TrimAll(ctx, "", false); err != nil {
		s.log.WithError(err).Error("Retention run failed")
	}
}

func (s *server) runReplication(ctx context.Context) {
	for _, pair := range s.cfg.Schedule.Pairs {
		if err := s.orchestrator.ReplicateRegion(ctx, pair.Source, pair.Destination, true); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"sourceRegion":      pair.Source,
				"destinationRegion": pair.Destination,
			}).Error("Replication run failed")
		}
	}
}
