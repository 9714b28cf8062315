package provision

import (
	"context"
	"fmt"

	"winbuilder/internal/target"
)

// ProvisionAll provisions specs strictly in order. A failed target does not
// stop the batch; every target starts from a fresh copy of the base
// environment.
func (p *Provisioner) ProvisionAll(ctx context.Context, specs []target.Spec) Summary {
	summary := Summary{Results: make([]Result, 0, len(specs))}
	for _, spec := range specs {
		drift := p.checkDrift(ctx, spec)

		result, _ := p.Provision(ctx, spec)
		if drift != "" {
			result.Warnings = append([]string{drift}, result.Warnings...)
		}
		if p.Recorder != nil {
			if err := p.Recorder.Record(ctx, result); err != nil {
				p.logger().Warn("could not record run", "env", result.EnvironmentID, "error", err)
			}
		}
		summary.Results = append(summary.Results, result)
	}
	return summary
}

// checkDrift warns when an environment is re-provisioned from a spec that
// differs from the one it was last provisioned with.
func (p *Provisioner) checkDrift(ctx context.Context, spec target.Spec) string {
	src, ok := p.Recorder.(FingerprintSource)
	if !ok {
		return ""
	}
	envID := spec.EnvironmentID()
	last, found, err := src.LastFingerprint(ctx, envID)
	if err != nil {
		p.logger().Warn("could not read run history", "env", envID, "error", err)
		return ""
	}
	if !found || last == spec.Fingerprint() {
		return ""
	}
	p.logger().Warn("target spec changed since the last run of this environment",
		"env", envID, "previous", last, "current", spec.Fingerprint())
	return fmt.Sprintf("%s was last provisioned from a different spec (%s)", envID, last)
}
