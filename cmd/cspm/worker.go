package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/api"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/events"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/models"
	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/reconcile"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

func newWorkerCmd(rt *runtime, opts *rootOptions) *cobra.Command {
	var noEvents, noJobs, noCleanup bool
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the event poller, maintenance jobs and cleanup scheduler until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, rt, opts)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			defer a.close(context.WithoutCancel(ctx))
			if err := a.loadAWS(ctx); err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(ctx)

			if !noEvents {
				if a.cfg.Events.QueueURL == "" {
					a.logger.Warn("no event queue configured; event poller disabled")
				} else {
					queueURL, err := events.ResolveQueueURL(ctx, a.profile.Clients.SQS, a.cfg.Events.QueueURL)
					if err != nil {
						return err
					}
					router := events.NewRouter(a.auditor, a.repo, a.publisher, a.cfg.Events.Concurrency, a.logger)
					poller := events.NewPoller(a.profile.Clients.SQS, queueURL, router, a.logger)
					g.Go(func() error { return poller.Run(gctx) })
				}
			}

			if !noJobs {
				if every := a.cfg.Jobs.ReconcileInterval; every > 0 {
					for _, k := range []models.ResourceKind{models.ResourceBucket, models.ResourceKey} {
						job := reconcile.ReconcileJob(reconcile.NewReconciler(a.repo, k, a.inventory(k), a.logger), a.publisher, a.logger)
						g.Go(func() error { job.Every(gctx, every); return nil })
					}
				}
				if every := a.cfg.Jobs.DedupInterval; every > 0 {
					job := reconcile.DedupJob(reconcile.NewDeduplicator(a.repo, "", a.logger), a.publisher, a.logger)
					g.Go(func() error { job.Every(gctx, every); return nil })
				}
			}

			if !noCleanup {
				sched := a.scheduler(a.simulator())
				g.Go(func() error { return sched.Run(gctx) })
			}

			a.logger.Info("worker started")
			return g.Wait()
		},
	}
	cmd.Flags().BoolVar(&noEvents, "no-events", false, "Disable the event queue poller")
	cmd.Flags().BoolVar(&noJobs, "no-jobs", false, "Disable reconcile and dedupe jobs")
	cmd.Flags().BoolVar(&noCleanup, "no-cleanup", false, "Disable the demo cleanup scheduler")
	return cmd
}

func newServeCmd(rt *runtime, opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the findings API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, rt, opts)
			if err != nil {
				return err
			}
			if addr != "" {
				a.cfg.API.Addr = addr
			}
			ctx := cmd.Context()
			if err := a.openStore(ctx); err != nil {
				return err
			}
			defer a.close(context.WithoutCancel(ctx))

			svc := &api.Service{Repo: a.repo, Logger: a.logger}
			g, gctx := errgroup.WithContext(ctx)

			// Audit and simulation routes need AWS; the read API does not.
			if err := a.loadAWS(ctx); err != nil {
				a.logger.Warn("AWS unavailable; audit and simulation routes disabled", "error", err)
			} else {
				sim := a.simulator()
				svc.Auditor = a.auditor
				svc.Simulator = sim
				sched := a.scheduler(sim)
				g.Go(func() error { return sched.Run(gctx) })
			}

			srv := api.NewHTTPServer(api.NewRouter(svc, a.cfg.API.CORSOrigins), a.cfg.API.Addr)
			g.Go(func() error {
				a.logger.Info("api listening", "addr", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
				defer cancel()
				return srv.Shutdown(sctx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: config api.addr)")
	return cmd
}
