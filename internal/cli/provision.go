package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"winbuilder/internal/launcher"
	"winbuilder/internal/ledger"
	"winbuilder/internal/provision"
	"winbuilder/internal/resolver"
	"winbuilder/internal/target"
	"winbuilder/internal/validator"
)

// targetReport is one line of the --json output.
type targetReport struct {
	ledger.Record
	ExitCode int `json:"exitCode"`
}

type batchReport struct {
	OK      bool           `json:"ok"`
	Failed  int            `json:"failed"`
	Targets []targetReport `json:"targets"`
}

// batchError carries the first failed target's error so the exit code is
// the one that target would have produced on its own.
type batchError struct {
	failed, total int
	first         error
}

func (e *batchError) Error() string {
	return fmt.Sprintf("%d of %d target(s) failed: %v", e.failed, e.total, e.first)
}

func (e *batchError) Unwrap() error { return e.first }

func (a *App) runProvision(cmd *cobra.Command, opts *rootOptions, args []string) error {
	logger := a.logger(opts)

	var (
		specs       []target.Spec
		propagation = target.DefaultPropagation()
	)
	if len(args) == 1 {
		batch, err := target.LoadBatchFromPath(args[0])
		if err != nil {
			return err
		}
		specs = batch.Targets
		propagation = batch.Propagation
		logger.Info("loaded batch", "file", args[0], "targets", len(specs))
	} else {
		spec, err := a.singleRunSpec()
		if err != nil {
			return err
		}
		specs = []target.Spec{spec}
	}

	propagation, err := applyPropagationFlags(cmd, opts, propagation)
	if err != nil {
		return err
	}

	runner := a.Runner
	if runner == nil {
		runner = launcher.NewExecRunner(a.stderr(), logger)
	}
	p := &provision.Provisioner{
		Environ:     a.Environ,
		Host:        a.Host,
		Runner:      runner,
		Mapper:      a.Mapper,
		HTTPClient:  a.HTTPClient,
		Catalog:     a.Catalog,
		Propagation: propagation,
		UpgradePip:  opts.upgradePip,
		WorkDir:     a.WorkDir,
		Logger:      logger,
		Now:         a.Now,
	}

	batchID := ""
	if !opts.noLedger {
		l, err := ledger.Open(a.ledgerPath(opts))
		if err != nil {
			logger.Warn("run history disabled", "error", err)
		} else {
			defer l.Close()
			p.Recorder = l
			batchID = l.BatchID()
		}
	}

	summary := p.ProvisionAll(cmd.Context(), specs)

	if opts.json {
		if err := writeJSON(a.stdout(), newBatchReport(batchID, summary)); err != nil {
			return err
		}
	} else {
		printSummary(a.stdout(), summary)
	}

	if first := summary.FirstError(); first != nil {
		return &batchError{failed: summary.Failed(), total: len(summary.Results), first: first}
	}
	return nil
}

// singleRunSpec builds a spec from the environment. Every problem is written
// to stderr before the error is returned.
func (a *App) singleRunSpec() (target.Spec, error) {
	resolved := resolver.Resolve(resolver.SingleRunFields, a.Environ)
	result := validator.Validate(resolver.SingleRunFields, resolved)
	if !result.Valid {
		for _, verr := range result.Errors {
			fmt.Fprintln(a.stderr(), validator.FormatError(verr))
		}
		fmt.Fprintf(a.stderr(), "\n❌ Validation failed: %d error(s)\n", len(result.Errors))
		return target.Spec{}, &reportedError{err: result.Err()}
	}
	return validator.BuildSpec(resolver.SingleRunFields, resolved)
}

func applyPropagationFlags(cmd *cobra.Command, opts *rootOptions, prop target.Propagation) (target.Propagation, error) {
	flags := cmd.Flags()
	if flags.Changed("policy") {
		policy, err := target.ParsePolicy(opts.policy)
		if err != nil {
			return prop, err
		}
		prop.Policy = policy
	}
	if flags.Changed("poll-timeout") {
		if opts.pollTimeout <= 0 {
			return prop, fmt.Errorf("%w: --poll-timeout must be positive", target.ErrInvalidConfig)
		}
		prop.Timeout = opts.pollTimeout
	}
	if flags.Changed("poll-interval") {
		if opts.pollInterval <= 0 {
			return prop, fmt.Errorf("%w: --poll-interval must be positive", target.ErrInvalidConfig)
		}
		prop.Interval = opts.pollInterval
	}
	return prop, nil
}

func newBatchReport(batchID string, summary provision.Summary) batchReport {
	report := batchReport{
		OK:      summary.Failed() == 0,
		Failed:  summary.Failed(),
		Targets: make([]targetReport, 0, len(summary.Results)),
	}
	for _, r := range summary.Results {
		report.Targets = append(report.Targets, targetReport{
			Record:   ledger.FromResult(batchID, r),
			ExitCode: ExitCode(r.Err),
		})
	}
	return report
}

func printSummary(w io.Writer, summary provision.Summary) {
	for _, r := range summary.Results {
		elapsed := r.FinishedAt.Sub(r.StartedAt).Round(time.Second)
		if r.OK() {
			fmt.Fprintf(w, "✅ %s ready in %s\n", r.EnvironmentID, elapsed)
			for _, tool := range []string{"python", "gcc"} {
				if v := r.Versions[tool]; v != "" {
					fmt.Fprintf(w, "   %s\n", v)
				}
			}
		} else {
			fmt.Fprintf(w, "❌ %s failed at %s: %v\n", r.EnvironmentID, r.FailedStep, unwrapStep(r.Err))
		}
		for _, action := range r.Actions {
			fmt.Fprintf(w, "   + %s\n", action)
		}
		for _, warning := range r.Warnings {
			fmt.Fprintf(w, "   ! %s\n", warning)
		}
	}
	if len(summary.Results) > 1 {
		fmt.Fprintf(w, "\n%d of %d target(s) ready\n", len(summary.Results)-summary.Failed(), len(summary.Results))
	}
}

func unwrapStep(err error) error {
	if stepErr, ok := err.(*provision.StepError); ok {
		return stepErr.Err
	}
	return err
}

func writeJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
