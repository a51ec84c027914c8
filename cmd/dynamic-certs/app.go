package main

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	ctrlconfig "sigs.k8s.io/controller-runtime/pkg/client/config"

	"github.com/vyrodovalexey/dynamic-certs/internal/config"
	"github.com/vyrodovalexey/dynamic-certs/internal/observability"
	"github.com/vyrodovalexey/dynamic-certs/internal/orchestrator"
	"github.com/vyrodovalexey/dynamic-certs/internal/process"
	"github.com/vyrodovalexey/dynamic-certs/internal/retry"
	"github.com/vyrodovalexey/dynamic-certs/internal/secrets"
)

// Timeouts of the work done around a run.
const (
	metricsExportTimeout  = 10 * time.Second
	tracerShutdownTimeout = 5 * time.Second
)

// application holds all components of one run.
type application struct {
	config       *config.Config
	orchestrator *orchestrator.Orchestrator
	metrics      *observability.Metrics
	tracer       *observability.Tracer
	secrets      secrets.Provider
}

// newKubeClient is replaced in tests.
var newKubeClient = func() (client.Client, error) {
	restConfig, err := ctrlconfig.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubernetes config: %w", err)
	}

	scheme := runtime.NewScheme()
	if err := corev1.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("failed to build scheme: %w", err)
	}

	c, err := client.New(restConfig, client.Options{Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	return c, nil
}

// initApplication wires metrics, tracing, the password secret, the process
// runner and the orchestrator.
func initApplication(
	ctx context.Context,
	cfg *config.Config,
	dryRun bool,
	logger observability.Logger,
) (*application, error) {
	app := &application{config: cfg}

	app.metrics = observability.NewMetrics("dynamic_certs")
	app.metrics.SetBuildInfo(version, gitCommit, buildTime)

	tracer, err := initTracer(cfg)
	if err != nil {
		return nil, err
	}
	app.tracer = tracer

	var password string
	if cfg.NeedsPKCS12Password() {
		provider, err := initSecretsProvider(ctx, cfg, app.metrics, logger)
		if err != nil {
			app.close(logger)
			return nil, err
		}
		app.secrets = provider

		password, err = resolvePassword(ctx, cfg, provider, logger)
		if err != nil {
			app.close(logger)
			return nil, err
		}
		logger.Info("pkcs12 password resolved",
			observability.String("provider", string(provider.Type())),
			observability.String("secret", cfg.Export.PasswordSecret),
		)
	}

	orch, err := orchestrator.New(cfg, initRunner(cfg, dryRun, logger),
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(app.metrics),
		orchestrator.WithTracer(app.tracer),
		orchestrator.WithPKCS12Password(password),
		orchestrator.WithDryRun(dryRun),
	)
	if err != nil {
		app.close(logger)
		return nil, err
	}
	app.orchestrator = orch

	return app, nil
}

// initTracer initializes the tracer.
func initTracer(cfg *config.Config) (*observability.Tracer, error) {
	tracer, err := observability.NewTracer(observability.TracerConfig{
		ServiceName:    "dynamic-certs",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		Insecure:       cfg.Tracing.Insecure,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	return tracer, nil
}

// initSecretsProvider creates the configured provider. Its metrics share
// the run registry.
func initSecretsProvider(
	ctx context.Context,
	cfg *config.Config,
	metrics *observability.Metrics,
	logger observability.Logger,
) (secrets.Provider, error) {
	var kubeClient client.Client
	if cfg.Secrets.Provider == config.SecretsProviderKubernetes {
		c, err := newKubeClient()
		if err != nil {
			return nil, err
		}
		kubeClient = c
	}

	secretsMetrics := secrets.NewMetrics("dynamic_certs", metrics.Registry())
	provider, err := secrets.NewProviderFromConfig(ctx, cfg, kubeClient, logger, secretsMetrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create secrets provider: %w", err)
	}
	return provider, nil
}

// resolvePassword reads the PKCS#12 password, retrying while the secret store
// is unavailable or the secret has not been created yet.
func resolvePassword(
	ctx context.Context,
	cfg *config.Config,
	provider secrets.Provider,
	logger observability.Logger,
) (string, error) {
	retryCfg := &retry.Config{
		MaxRetries:     cfg.Secrets.Retries,
		InitialBackoff: time.Duration(cfg.Secrets.RetryBackoff),
	}

	var password string
	err := retry.Do(ctx, retryCfg, func(ctx context.Context) error {
		var err error
		password, err = secrets.ResolvePassword(ctx, provider, cfg.Export.PasswordSecret, cfg.Export.PasswordKey)
		return err
	}, &retry.Options{
		ShouldRetry: secrets.IsTransient,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			logger.Warn("retrying pkcs12 password lookup",
				observability.Int("attempt", attempt),
				observability.Duration("backoff", backoff),
				observability.Error(err),
			)
		},
	})
	return password, err
}

// initRunner returns the process runner for the run mode.
func initRunner(cfg *config.Config, dryRun bool, logger observability.Logger) process.Runner {
	if dryRun {
		return process.NewDryRunRunner(logger)
	}
	return process.NewExecRunner(logger, process.WithTimeout(time.Duration(cfg.StepTimeout)))
}

// exportMetrics writes the textfile and pushes to the Pushgateway when
// configured. Failures are logged and do not change the exit code.
func (a *application) exportMetrics(ctx context.Context, logger observability.Logger) {
	m := a.config.Metrics

	if m.Textfile != "" {
		if err := a.metrics.WriteTextfile(m.Textfile); err != nil {
			logger.Warn("failed to write metrics textfile", observability.Error(err))
		} else {
			logger.Debug("metrics textfile written", observability.String("path", m.Textfile))
		}
	}

	if m.PushgatewayURL != "" {
		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsExportTimeout)
		defer cancel()
		if err := a.metrics.Push(pushCtx, m.PushgatewayURL, m.Job); err != nil {
			logger.Warn("failed to push metrics", observability.Error(err))
		} else {
			logger.Debug("metrics pushed", observability.String("url", m.PushgatewayURL))
		}
	}
}

// close releases the secrets provider and flushes the tracer.
func (a *application) close(logger observability.Logger) {
	if a.secrets != nil {
		if err := a.secrets.Close(); err != nil {
			logger.Warn("failed to close secrets provider", observability.Error(err))
		}
	}

	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), tracerShutdownTimeout)
		defer cancel()
		if err := a.tracer.Shutdown(ctx); err != nil {
			logger.Warn("failed to shut down tracer", observability.Error(err))
		}
	}
}
