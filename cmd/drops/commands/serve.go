package commands

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/systmms/drops/internal/config"
	droerrors "github.com/systmms/drops/internal/errors"
	"github.com/systmms/drops/internal/events"
	"github.com/systmms/drops/internal/health"
	"github.com/systmms/drops/internal/logging"
	"github.com/systmms/drops/internal/notify"
	"github.com/systmms/drops/internal/orchestrator"
	"github.com/systmms/drops/internal/orchestrator/checkpoint"
	"github.com/systmms/drops/internal/scaler"
	"k8s.io/client-go/kubernetes"
)

func NewServeCommand(cfg *config.Config) *cobra.Command {
	var (
		port       int
		namespace  string
		kubeconfig string
		stateDir   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the failover orchestrator",
		Long: `Start the orchestrator daemon: watch every configured pair's primary
environment, accept manual trigger requests over HTTP, and execute failovers
when an outage is detected.

The admin endpoint exposes:
  /metrics   Prometheus metrics
  /health    liveness probe
  /status    pair health and recent runs
  /trigger   POST a failover request

Examples:
  # Run with the default config
  drops serve

  # Run against a specific cluster and namespace
  drops serve --kubeconfig ~/.kube/dr-cluster --namespace payments`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Load(); err != nil {
				return err
			}

			client, err := scaler.NewClientset(kubeconfig)
			if err != nil {
				return droerrors.UserError{
					Message:    "Failed to connect to Kubernetes",
					Suggestion: "Check your kubeconfig path or use --kubeconfig",
					Err:        err,
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, serveOptions{
				port:      port,
				namespace: namespace,
				stateDir:  stateDir,
				client:    client,
			})
		},
	}

	cmd.Flags().IntVar(&port, "port", 9090, "Admin endpoint port")
	cmd.Flags().StringVar(&namespace, "namespace", "drops", "Kubernetes namespace for recovery workloads")
	cmd.Flags().StringVar(&kubeconfig, "kubeconfig", "", "Path to kubeconfig (default: ~/.kube/config)")
	cmd.Flags().StringVar(&stateDir, "state-dir", "", "Directory for run checkpoints and history")

	return cmd
}

type serveOptions struct {
	port      int
	namespace string
	stateDir  string
	client    kubernetes.Interface
}

func serve(ctx context.Context, cfg *config.Config, opts serveOptions) error {
	logger := cfg.Logger
	settings := cfg.Definition.Orchestrator

	store := checkpoint.NewFileStore(storeDir(cfg, opts.stateDir))

	trafficRouter, err := buildRouter(ctx, cfg)
	if err != nil {
		return err
	}

	notifier := buildNotifier(cfg)
	notifier.Start(ctx)
	defer notifier.Stop()

	channel := events.NewChannel(0, logger)
	channel.OnDeadLetter(func(letter events.DeadLetter) {
		notifier.Send(notify.Event{
			Type:      notify.EventTypeDeadLetter,
			Pair:      letter.Request.Pair,
			RequestID: letter.Request.ID,
			Reason:    letter.Request.Reason,
			TestMode:  letter.Request.TestMode,
			Error:     letter.LastErr,
			Timestamp: time.Now().UTC(),
		})
	})
	monitor := health.NewMonitor(monitorConfig(settings), channel, logger)
	defer monitor.Close()

	engine := buildEngine(cfg, opts.namespace, engineDeps{
		client:   opts.client,
		router:   trafficRouter,
		monitor:  monitor,
		notifier: notifier,
		store:    store,
	})

	reportPendingRuns(engine, logger)

	channel.Start(ctx, func(ctx context.Context, req events.FailoverRequest) error {
		run, err := engine.Execute(ctx, req)
		if err != nil && run == nil {
			// The request itself was bad or rejected; let the channel
			// retry and eventually dead-letter it.
			if droerrors.IsConcurrentRun(err) {
				logger.Warn("dropping request %s: %v", req.ID, err)
				return nil
			}
			return err
		}
		return nil
	})
	defer channel.Stop()

	for _, name := range pairNamesSorted(cfg) {
		pair := cfg.Definition.Pairs[name]
		probers, err := health.ForTargets(pair.Primary.Checks)
		if err != nil {
			return err
		}
		if len(probers) == 0 {
			logger.Warn("pair %s has no primary checks, outage detection disabled", name)
			continue
		}
		if err := monitor.Watch(ctx, name, probers); err != nil {
			return err
		}
		logger.Info("watching pair %s (%d checks, threshold %d)", name, len(probers), settings.FailThreshold)
	}

	adminConfig := health.DefaultAdminServerConfig()
	adminConfig.Port = opts.port
	admin := health.NewAdminServer(adminConfig)
	admin.Handle("/trigger", &triggerHandler{channel: channel, cfg: cfg, logger: logger})
	admin.Handle("/status", &statusHandler{engine: engine, monitor: monitor, channel: channel})
	if err := admin.Start(); err != nil {
		return err
	}
	logger.Info("✓ drops orchestrator listening on :%d (%d pairs)", opts.port, len(cfg.Definition.Pairs))

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := admin.Stop(shutdownCtx); err != nil {
		logger.Warn("admin server shutdown: %v", err)
	}
	if dead := channel.DeadLetters(); len(dead) > 0 {
		for _, letter := range dead {
			logger.Error("request %s for pair %s was never processed: %v",
				letter.Request.ID, letter.Request.Pair, letter.LastErr)
		}
	}
	return nil
}

// reportPendingRuns surfaces runs left behind by a previous process.
func reportPendingRuns(engine *orchestrator.Engine, logger *logging.Logger) {
	pending, err := engine.PendingRuns()
	if err != nil {
		logger.Warn("failed to read pending runs: %v", err)
		return
	}
	for _, run := range pending {
		if run.State == orchestrator.StateFailed {
			logger.Error("run %s for pair %s failed with unfinished compensations %v, run 'drops rollback --request-id %s'",
				run.Request.ID, run.Pair, run.RemainingCompensations, run.Request.ID)
			continue
		}
		logger.Warn("run %s for pair %s was interrupted in state %s", run.Request.ID, run.Pair, run.State)
	}
}

// triggerHandler accepts manual failover requests over HTTP.
type triggerHandler struct {
	channel *events.Channel
	cfg     *config.Config
	logger  *logging.Logger
}

func (h *triggerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	req, err := events.Decode(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := h.cfg.GetPair(req.Pair); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	if !h.channel.Publish(req) {
		http.Error(w, "request queue full", http.StatusServiceUnavailable)
		return
	}
	h.logger.Info("accepted failover request %s for pair %s (test: %v)", req.ID, req.Pair, req.TestMode)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"id": req.ID, "pair": req.Pair})
}

// statusHandler reports pair health and recent runs.
type statusHandler struct {
	engine  *orchestrator.Engine
	monitor *health.Monitor
	channel *events.Channel
}

type statusResponse struct {
	Pairs       map[string]health.Status `json:"pairs"`
	Runs        []*orchestrator.Run      `json:"runs,omitempty"`
	DeadLetters []events.DeadLetter      `json:"deadLetters,omitempty"`
}

func (h *statusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := statusResponse{
		Pairs:       h.monitor.Statuses(),
		Runs:        h.engine.Runs(),
		DeadLetters: h.channel.DeadLetters(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
