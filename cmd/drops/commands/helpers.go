package commands

import (
	"context"
	"sort"
	"time"

	"github.com/systmms/drops/internal/config"
	"github.com/systmms/drops/internal/deploy"
	"github.com/systmms/drops/internal/health"
	"github.com/systmms/drops/internal/notify"
	"github.com/systmms/drops/internal/orchestrator"
	"github.com/systmms/drops/internal/orchestrator/checkpoint"
	"github.com/systmms/drops/internal/router"
	"github.com/systmms/drops/internal/scaler"
	"k8s.io/client-go/kubernetes"
)

// pairNamesSorted returns the configured pair names in stable order
func pairNamesSorted(cfg *config.Config) []string {
	names := cfg.PairNames()
	sort.Strings(names)
	return names
}

// storeDir resolves the checkpoint directory: flag first, then config,
// then the platform default
func storeDir(cfg *config.Config, flagDir string) string {
	if flagDir != "" {
		return flagDir
	}
	if cfg.Definition != nil && cfg.Definition.Storage.Dir != "" {
		return cfg.Definition.Storage.Dir
	}
	return checkpoint.DefaultStoreDir()
}

// buildRouter assembles a dispatcher with one router per pair's configured
// provider. Pairs without routing config share the static fallback.
func buildRouter(ctx context.Context, cfg *config.Config) (router.TrafficRouter, error) {
	dispatcher := router.NewDispatcher(router.NewStaticRouter(cfg.Logger))

	var route53API router.Route53API
	for _, name := range pairNamesSorted(cfg) {
		pair := cfg.Definition.Pairs[name]
		if pair.Routing.Provider != "route53" {
			continue
		}
		if route53API == nil {
			api, err := router.NewRoute53Client(ctx)
			if err != nil {
				return nil, err
			}
			route53API = api
		}
		ttl := pair.Routing.TTLSeconds
		if ttl <= 0 {
			ttl = 60
		}
		dispatcher.Register(name, router.NewRoute53Router(
			route53API, pair.Routing.HostedZoneID, pair.Routing.RecordName, ttl, cfg.Logger))
	}
	return dispatcher, nil
}

// buildNotifier wires the configured notification targets into an async
// manager. The manager still needs Start before it delivers anything.
func buildNotifier(cfg *config.Config) *notify.Manager {
	manager := notify.NewManager(0, cfg.Logger)
	for _, target := range cfg.Definition.Notifications {
		switch target.Type {
		case "slack":
			manager.RegisterProvider(notify.NewSlackProvider(notify.SlackConfig{
				WebhookURL: target.URL,
				Channel:    target.Channel,
				Events:     target.EventTypes,
			}))
		case "webhook":
			manager.RegisterProvider(notify.NewWebhookProvider(notify.WebhookConfig{
				Name:   "webhook",
				URL:    target.URL,
				Events: target.EventTypes,
			}))
		}
	}
	return manager
}

// engineDeps carries everything buildEngine needs beyond the config.
type engineDeps struct {
	client   kubernetes.Interface
	router   router.TrafficRouter
	monitor  orchestrator.Suppressor
	notifier orchestrator.Notifier
	store    *checkpoint.FileStore
}

// buildEngine assembles the orchestrator from live collaborators.
func buildEngine(cfg *config.Config, namespace string, deps engineDeps) *orchestrator.Engine {
	settings := cfg.Definition.Orchestrator
	policy := health.DefaultValidationPolicy()
	if settings.ValidationSampleCount > 0 {
		policy.SampleCount = settings.ValidationSampleCount
	}
	if settings.ValidationMinSuccess > 0 {
		policy.MinSuccessRatio = settings.ValidationMinSuccess
	}

	return orchestrator.NewEngine(orchestrator.EngineConfig{
		Config:    cfg,
		Scaler:    scaler.NewKubernetesScaler(deps.client, namespace, cfg.Logger),
		Deployer:  deploy.NewManager(deps.client, namespace, cfg.Logger),
		Validator: health.NewValidator(policy, cfg.Logger),
		Router:    deps.router,
		Monitor:   deps.monitor,
		Notifier:  deps.notifier,
		Store:     deps.store,
		Metrics:   health.NewFailoverMetrics(),
		Logger:    cfg.Logger,
	})
}

// monitorConfig maps orchestrator settings onto the health monitor.
func monitorConfig(settings config.OrchestratorSettings) health.MonitorConfig {
	mc := health.DefaultMonitorConfig()
	if settings.PollIntervalSeconds > 0 {
		mc.Interval = time.Duration(settings.PollIntervalSeconds) * time.Second
	}
	if settings.FailThreshold > 0 {
		mc.FailureThreshold = settings.FailThreshold
	}
	return mc
}
