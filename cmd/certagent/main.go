package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/edgepki/certagent/internal/config"
	"github.com/edgepki/certagent/internal/enroll"
	"github.com/edgepki/certagent/internal/fsutil"
	"github.com/edgepki/certagent/internal/logging"
	"github.com/edgepki/certagent/internal/policy"
	"github.com/edgepki/certagent/internal/revocation"
	"github.com/edgepki/certagent/internal/rotation"
	"github.com/edgepki/certagent/internal/status"
	"github.com/edgepki/certagent/internal/workflow"
)

const crlFetchTimeout = 30 * time.Second

func main() {
	app := &cli.App{
		Name:  "certagent",
		Usage: "keeps a leaf TLS credential continuously valid against a PKI",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "path to the YAML configuration file",
				EnvVars:  []string{"CERTAGENT_CONFIG"},
				Required: true,
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "enable debug logging",
				EnvVars: []string{"CERTAGENT_VERBOSE"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run the rotation loop until signalled",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "iterations",
						Usage: "stop after N iterations (0 = run forever)",
					},
				},
				Action: runLoop,
			},
			{
				Name:   "check",
				Usage:  "evaluate the credential once, print the decision, and exit",
				Action: runCheck,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// buildAgent wires the component graph from configuration.
func buildAgent(cfg *config.Config, logger *zap.Logger) (*status.Evaluator, *rotation.Rotator, *fsutil.Store, error) {
	store := fsutil.NewStore(fsutil.NewPermissionPolicy(), logger)

	var crl *revocation.Cache
	if cfg.CRL.Enabled {
		crl = revocation.NewCache(store, crlFetchTimeout, logger)
	}
	evaluator := status.NewEvaluator(cfg, crl, logger)

	client, err := enroll.NewClient(cfg.Enrollment, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("enrollment client: %w", err)
	}
	rotator := rotation.NewRotator(cfg, store, client, logger)

	return evaluator, rotator, store, nil
}

func runLoop(cCtx *cli.Context) error {
	cfg, err := config.LoadWithEnv(cCtx.String("config"))
	if err != nil {
		return err
	}
	logger, err := logging.New(cCtx.Bool("verbose"))
	if err != nil {
		return err
	}
	defer logger.Sync()

	evaluator, rotator, store, err := buildAgent(cfg, logger)
	if err != nil {
		return err
	}

	metrics := workflow.NewMetrics()
	validator := &workflow.FileValidator{Verify: store.VerifyPermissions}
	engine := workflow.NewEngine(cfg, evaluator, rotator, validator, metrics, logger)

	ctx, stop := signal.NotifyContext(cCtx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		go serveMetrics(ctx, cfg.Metrics.ListenAddr, metrics, logger)
	}

	if err := engine.Run(ctx, cCtx.Int("iterations")); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runCheck performs Monitor and Decide once and reports the outcome without
// executing anything. Exits non-zero when action is required, so it can
// back health checks and pre-flight scripts.
func runCheck(cCtx *cli.Context) error {
	cfg, err := config.LoadWithEnv(cCtx.String("config"))
	if err != nil {
		return err
	}
	logger, err := logging.New(cCtx.Bool("verbose"))
	if err != nil {
		return err
	}
	defer logger.Sync()

	evaluator, _, _, err := buildAgent(cfg, logger)
	if err != nil {
		return err
	}

	st := evaluator.Evaluate(cCtx.Context)
	decision := policy.Decide(st)

	fmt.Printf("action: %s\nauth: %s\nreason: %s\n", decision.Action, decision.Auth, decision.Reason)
	if st.Exists && !st.Malformed {
		fmt.Printf("subject: %s\nnot_after: %s\nlifetime_consumed: %.2f%%\n",
			st.Subject, st.NotAfter.Format(time.RFC3339), st.LifetimeConsumedPercent)
	}

	if decision.Action != policy.ActionSkip {
		return cli.Exit("", 1)
	}
	return nil
}

func serveMetrics(ctx context.Context, addr string, metrics *workflow.Metrics, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listener started", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("metrics listener failed", zap.Error(err))
	}
}
