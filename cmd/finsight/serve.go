package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nidhogg/finsight/internal/api"
	"github.com/nidhogg/finsight/internal/command"
	"github.com/nidhogg/finsight/internal/gateway"
	"github.com/nidhogg/finsight/internal/orchestrator"
	msgrouter "github.com/nidhogg/finsight/internal/router"
	"github.com/nidhogg/finsight/internal/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	servePort   int
	serveWorker bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and chat gateway",
	Long: `Serve the HTTP API, the REST/Slack/Discord chat gateway and, unless
--worker=false, an in-process worker pool for async jobs.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Listen port (default server.port)")
	serveCmd.Flags().BoolVar(&serveWorker, "worker", true, "Run the async worker pool in-process")
}

// jobNotifier announces finished jobs through the broadcaster.
func jobNotifier(b *gateway.Broadcaster) orchestrator.JobNotifier {
	return func(ctx context.Context, job *orchestrator.Job) {
		msg := &gateway.BroadcastMessage{
			Type:  gateway.BroadcastTaskComplete,
			Title: fmt.Sprintf("Job %s done", job.ID),
		}
		if job.Status == orchestrator.JobFailed {
			msg.Type = gateway.BroadcastTaskFailed
			msg.Title = fmt.Sprintf("Job %s failed", job.ID)
			msg.Content = job.Error
		} else if res, err := orchestrator.DecodeAggregated(job.Result); err == nil {
			msg.Content = res.Format()
		}
		if err := b.Send(ctx, msg); err != nil {
			logger.Warn("job broadcast incomplete", zap.String("job", job.ID), zap.Error(err))
		}
	}
}

// newGateway registers the configured adapters and routes their messages.
func newGateway(a *app, queue orchestrator.Dispatcher) (*gateway.Gateway, *gateway.RESTAdapter) {
	gw := gateway.NewGateway(logger)

	reg := command.NewRegistry()
	command.RegisterBuiltins(reg, command.Deps{
		Analyzer:   a.service,
		History:    a.service,
		Dispatcher: queue,
		Status:     gw,
	})
	gw.SetHandler(msgrouter.New(a.service, gw, reg, logger).Handle)

	restAdapter := gateway.NewRESTAdapter(0, logger)
	gw.Register(restAdapter)

	gc := a.cfg.Gateway
	if gc.Slack.Enabled && gc.Slack.BotToken != "" {
		slackAdapter := gateway.NewSlackAdapter(gc.Slack.BotToken, gc.Slack.AppToken, logger)
		for _, w := range a.crew.Workers() {
			slackAdapter.SetPersona(w.Role, &gateway.Persona{Name: w.Role, Emoji: ":bar_chart:"})
		}
		gw.Register(slackAdapter)
	}
	if gc.Discord.Enabled && gc.Discord.BotToken != "" {
		discordAdapter := gateway.NewDiscordAdapter(gc.Discord.BotToken, logger)
		for _, w := range a.crew.Workers() {
			discordAdapter.SetPersona(w.Role, &gateway.Persona{Name: w.Role})
		}
		gw.Register(discordAdapter)
	}
	return gw, restAdapter
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Init(ctx, "finsight", version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer shutdown(context.Background())

	a, err := newApp(ctx, cfg, logger, appOptions{record: true, index: true})
	if err != nil {
		return err
	}
	defer a.Close()

	queue, err := a.openQueue()
	if err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}

	gw, restAdapter := newGateway(a, queue)
	defer gw.Close()
	broadcaster := gateway.NewBroadcaster(gw, logger)
	if err := gw.ConnectAll(ctx); err != nil {
		logger.Warn("some gateway adapters failed to connect", zap.Error(err))
	}

	poolDone := make(chan error, 1)
	if serveWorker {
		pool := orchestrator.NewWorkerPool(a.service, queue, cfg.Dispatch.Workers, logger)
		pool.OnComplete(jobNotifier(broadcaster))
		go func() { poolDone <- pool.Run(ctx) }()
	} else {
		poolDone <- nil
	}

	deps := api.Deps{
		Analyzer:    a.service,
		Dispatcher:  queue,
		Gateway:     gw,
		Broadcaster: broadcaster,
		REST:        restAdapter,
		UploadDir:   cfg.Server.UploadDir,
	}
	if a.archive != nil {
		deps.Archive = a.archive
	}
	handler := api.NewHandler(deps, logger)

	port := servePort
	if port == 0 {
		port = cfg.Server.Port
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("finsight listening", zap.Int("port", port), zap.Bool("worker", serveWorker))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		stop()
		return fmt.Errorf("server: %w", err)
	}

	logger.Info("shutting down finsight")
	shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := <-poolDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("worker pool stopped", zap.Error(err))
	}
	return nil
}
