// Package workflow drives the agent's recurring loop: Monitor the on-disk
// credential, Decide what to do about it, Execute the decision, Validate the
// installed files, sleep, repeat.
package workflow

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/edgepki/certagent/internal/config"
	"github.com/edgepki/certagent/internal/policy"
	"github.com/edgepki/certagent/internal/rotation"
	"github.com/edgepki/certagent/internal/status"
)

// Context is the mutable carrier threaded through one iteration. It is owned
// by the engine; each step writes only its designated fields.
type Context struct {
	Cfg      *config.Config
	Status   *status.CertificateStatus
	Decision policy.Decision
	Result   rotation.Result
}

// Step is one stage of an iteration. A step whose failure is survivable
// reports ContinueOnError true: its error is logged and the iteration
// proceeds with whatever partial state the step left behind. A fatal step's
// error aborts the remaining steps of that iteration only; the loop itself
// always continues.
type Step interface {
	Name() string
	ContinueOnError() bool
	Run(ctx context.Context, wc *Context) error
}

// Engine runs the fixed step sequence on a fixed interval. Single-threaded
// by design: steps run sequentially and iterations never overlap, so the
// credential can never be rotated concurrently with itself.
type Engine struct {
	cfg      *config.Config
	steps    [4]Step
	metrics  *Metrics
	interval time.Duration
	log      *zap.Logger
}

// NewEngine wires the four steps. The sequence is fixed at compile time;
// there is deliberately no registration mechanism to get wrong at runtime.
func NewEngine(cfg *config.Config, evaluator *status.Evaluator, rotator *rotation.Rotator, validator Validator, metrics *Metrics, log *zap.Logger) *Engine {
	return &Engine{
		cfg: cfg,
		steps: [4]Step{
			&monitorStep{evaluator: evaluator},
			&decideStep{log: log},
			&executeStep{rotator: rotator},
			&validateStep{validator: validator},
		},
		metrics:  metrics,
		interval: cfg.CheckInterval(),
		log:      log,
	}
}

// Metrics returns the engine's metrics for snapshotting or scraping.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// Run executes iterations until ctx is cancelled, or until maxIterations
// have run when it is positive. The iteration in flight when cancellation
// arrives finishes its current step; the loop only observes ctx between
// iterations, preserving the no-half-written-credential invariant under
// shutdown.
func (e *Engine) Run(ctx context.Context, maxIterations int) error {
	e.log.Info("workflow engine started",
		zap.Duration("interval", e.interval),
		zap.Int("max_iterations", maxIterations))

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for n := 0; ; {
		e.RunIteration(ctx)
		n++
		if maxIterations > 0 && n >= maxIterations {
			e.log.Info("iteration budget exhausted, stopping", zap.Int("iterations", n))
			return nil
		}
		select {
		case <-ctx.Done():
			e.log.Info("shutdown requested, stopping", zap.Int("iterations", n))
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunIteration runs one full Monitor → Decide → Execute → Validate pass.
// It never returns an error: per-step failures are logged and counted, and
// the next interval gets a fresh, independent attempt.
func (e *Engine) RunIteration(ctx context.Context) {
	e.metrics.iterationStarted()
	wc := &Context{Cfg: e.cfg}

	ok := true
	for _, step := range e.steps {
		started := time.Now()
		err := step.Run(ctx, wc)
		e.metrics.stepObserved(step.Name(), time.Since(started), err != nil)

		if err == nil {
			continue
		}
		if step.ContinueOnError() {
			e.log.Warn("step failed, continuing iteration",
				zap.String("step", step.Name()),
				zap.Error(err))
			continue
		}
		e.log.Error("step failed, aborting iteration",
			zap.String("step", step.Name()),
			zap.Error(err))
		ok = false
		break
	}
	e.metrics.iterationFinished(ok)
}

type monitorStep struct {
	evaluator *status.Evaluator
}

func (*monitorStep) Name() string          { return "monitor" }
func (*monitorStep) ContinueOnError() bool { return true }

func (s *monitorStep) Run(ctx context.Context, wc *Context) error {
	wc.Status = s.evaluator.Evaluate(ctx)
	return nil
}

type decideStep struct {
	log *zap.Logger
}

func (*decideStep) Name() string          { return "decide" }
func (*decideStep) ContinueOnError() bool { return false }

func (s *decideStep) Run(ctx context.Context, wc *Context) error {
	if wc.Status == nil {
		return errors.New("no certificate status available")
	}
	wc.Decision = policy.Decide(wc.Status)
	s.log.Info("decision",
		zap.String("action", wc.Decision.Action.String()),
		zap.String("auth", wc.Decision.Auth.String()),
		zap.String("reason", wc.Decision.Reason),
		zap.Float64("lifetime_consumed_pct", wc.Status.LifetimeConsumedPercent))
	return nil
}

type executeStep struct {
	rotator *rotation.Rotator
}

func (*executeStep) Name() string          { return "execute" }
func (*executeStep) ContinueOnError() bool { return false }

func (s *executeStep) Run(ctx context.Context, wc *Context) error {
	wc.Result = s.rotator.Execute(ctx, wc.Decision)
	if !wc.Result.Success {
		return fmt.Errorf("rotation: %s", wc.Result.Message)
	}
	return nil
}

// Validator re-checks the installed files independently of what Execute
// reported, as a defense against silent partial installs.
type Validator interface {
	Validate(wc *Context) error
}

type validateStep struct {
	validator Validator
}

func (*validateStep) Name() string          { return "validate" }
func (*validateStep) ContinueOnError() bool { return true }

func (s *validateStep) Run(ctx context.Context, wc *Context) error {
	return s.validator.Validate(wc)
}

// FileValidator confirms the credential files exist, are readable, carry
// their required modes, and form a usable key pair.
type FileValidator struct {
	Verify func(path string, mode os.FileMode) bool
}

// Validate checks both halves of the installed credential. A decision that
// skipped because the certificate is valid, or an install that just
// succeeded, must leave both files present and matching each other.
func (v *FileValidator) Validate(wc *Context) error {
	certPath := wc.Cfg.Certificate.CertPath
	keyPath := wc.Cfg.Certificate.KeyPath

	if _, err := os.ReadFile(certPath); err != nil {
		return fmt.Errorf("certificate not readable: %w", err)
	}
	if _, err := os.ReadFile(keyPath); err != nil {
		return fmt.Errorf("private key not readable: %w", err)
	}
	if _, err := tls.LoadX509KeyPair(certPath, keyPath); err != nil {
		return fmt.Errorf("certificate and key do not form a usable pair: %w", err)
	}
	if v.Verify != nil {
		if !v.Verify(certPath, rotation.CertMode) {
			return fmt.Errorf("certificate permissions are not %04o", rotation.CertMode)
		}
		if !v.Verify(keyPath, rotation.KeyMode) {
			return fmt.Errorf("private key permissions are not %04o", rotation.KeyMode)
		}
	}
	return nil
}
