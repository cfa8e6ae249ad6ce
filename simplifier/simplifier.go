// Package simplifier turns simplification settings into a command line for
// the external vcg-simplifier binary, runs it, and classifies the outcome.
package simplifier

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/akila/mesh-simplifier/metrics"
	"github.com/akila/mesh-simplifier/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/akila/mesh-simplifier/simplifier"

// Simplifier reduces the mesh at input and writes the result to output.
type Simplifier interface {
	Simplify(ctx context.Context, input, output string, params models.Params) (*models.Artifact, error)
}

// ToolError is a failure reported by the simplifier itself through a
// non-zero exit code.
type ToolError struct {
	ExitCode int
	Stderr   string
	Stdout   string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("simplifier exited with code %d: %s", e.ExitCode, e.Diagnostic())
}

// Diagnostic is the text shown to the caller: stderr verbatim, or stdout
// when the tool wrote nothing to stderr.
func (e *ToolError) Diagnostic() string {
	if e.Stderr != "" {
		return e.Stderr
	}
	return e.Stdout
}

type Config struct {
	Executable string
	// Timeout bounds one invocation. Zero means only the caller's context applies.
	Timeout        time.Duration
	MaxOutputBytes int
}

// ProcessSimplifier runs the simplifier as a child process per job.
type ProcessSimplifier struct {
	cfg     Config
	runner  Runner
	metrics *metrics.Collector
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewProcessSimplifier wires a simplifier. runner may be nil, in which case
// an ExecRunner is used; collector may be nil.
func NewProcessSimplifier(cfg Config, runner Runner, collector *metrics.Collector, logger *zap.Logger) *ProcessSimplifier {
	if runner == nil {
		runner = ExecRunner{MaxOutputBytes: cfg.MaxOutputBytes}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcessSimplifier{
		cfg:     cfg,
		runner:  runner,
		metrics: collector,
		logger:  logger.With(zap.String("component", "simplifier")),
		tracer:  otel.Tracer(tracerName),
	}
}

func (p *ProcessSimplifier) Simplify(ctx context.Context, input, output string, params models.Params) (*models.Artifact, error) {
	ctx, span := p.tracer.Start(ctx, "simplifier.run", trace.WithAttributes(
		attribute.String("simplifier.executable", p.cfg.Executable),
		attribute.String("simplifier.ratio", params.Ratio),
		attribute.String("simplifier.target_count", params.TargetCount),
	))
	defer span.End()

	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	argv := BuildArgs(p.cfg.Executable, input, output, params)
	p.logger.Info("executing simplifier", zap.Strings("argv", argv))

	start := time.Now()
	done := p.metrics.JobStarted()
	res, err := p.runner.Run(ctx, argv)
	done()
	elapsed := time.Since(start)

	if err != nil {
		outcome := classify(err)
		p.metrics.RecordJob(outcome, elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)

		if outcome == metrics.OutcomeSpawnFailure {
			p.logger.Error("simplifier could not be started",
				zap.String("failure", "spawn"),
				zap.String("executable", p.cfg.Executable),
				zap.Error(err))
		} else {
			p.logger.Warn("simplifier did not finish",
				zap.String("failure", outcome),
				zap.Duration("elapsed", elapsed),
				zap.Error(err))
		}
		return nil, err
	}

	span.SetAttributes(attribute.Int("simplifier.exit_code", res.ExitCode))

	if !res.Success() {
		p.metrics.RecordJob(metrics.OutcomeToolFailure, elapsed)
		span.SetStatus(codes.Error, metrics.OutcomeToolFailure)
		p.logger.Error("simplifier failed",
			zap.String("failure", "tool"),
			zap.Int("exit_code", res.ExitCode),
			zap.String("stderr", res.Stderr),
			zap.String("stdout", res.Stdout))
		return nil, &ToolError{
			ExitCode: res.ExitCode,
			Stderr:   res.Stderr,
			Stdout:   res.Stdout,
		}
	}

	p.metrics.RecordJob(metrics.OutcomeSuccess, elapsed)
	p.logger.Info("simplifier finished",
		zap.String("output", output),
		zap.Duration("elapsed", elapsed))

	return &models.Artifact{Path: output, Duration: res.Duration}, nil
}

// Check reports whether the configured executable can be resolved.
func (p *ProcessSimplifier) Check(ctx context.Context) error {
	if _, err := exec.LookPath(p.cfg.Executable); err != nil {
		return fmt.Errorf("%w: %w", ErrSpawn, err)
	}
	return nil
}

func (p *ProcessSimplifier) Name() string {
	return "simplifier"
}

func classify(err error) string {
	switch {
	case errors.Is(err, ErrSpawn):
		return metrics.OutcomeSpawnFailure
	case errors.Is(err, ErrTimeout):
		return metrics.OutcomeTimeout
	default:
		return metrics.OutcomeCanceled
	}
}
