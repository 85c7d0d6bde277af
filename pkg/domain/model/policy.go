package model

import (
	wildcard "github.com/IGLOU-EU/go-wildcard/v2"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/harrier/pkg/domain/types"
)

// Policy represents the scan policy configuration: the CI failure threshold,
// suppression rules, and notification settings
type Policy struct {
	FailOn   types.Severity `yaml:"fail_on"`
	Suppress []SuppressRule `yaml:"suppress,omitempty"`
	Notify   NotifyPolicy   `yaml:"notify,omitempty"`
}

// SuppressRule excludes findings matching all of its non-empty patterns.
// Patterns support '*' and '?' wildcards. A rule must carry a reason and at
// least one pattern.
type SuppressRule struct {
	Scanner string `yaml:"scanner,omitempty"`
	Rule    string `yaml:"rule,omitempty"`
	Path    string `yaml:"path,omitempty"`
	Package string `yaml:"package,omitempty"`
	Reason  string `yaml:"reason"`
}

// NotifyPolicy controls which lifecycle events are worth a notification
type NotifyPolicy struct {
	MinSeverity types.Severity `yaml:"min_severity,omitempty"`
}

// DefaultPolicy returns the policy used when no policy file is provided:
// fail CI on high or above, notify on high or above, no suppressions.
func DefaultPolicy() *Policy {
	return &Policy{
		FailOn: types.SeverityHigh,
		Notify: NotifyPolicy{MinSeverity: types.SeverityHigh},
	}
}

// Validate validates the policy configuration
func (p *Policy) Validate() error {
	if p.FailOn == "" {
		p.FailOn = types.SeverityHigh
	}
	if !p.FailOn.IsValid() {
		return goerr.New("invalid fail_on severity", goerr.V("fail_on", p.FailOn))
	}
	if p.Notify.MinSeverity == "" {
		p.Notify.MinSeverity = types.SeverityHigh
	}
	if !p.Notify.MinSeverity.IsValid() {
		return goerr.New("invalid notify min_severity", goerr.V("min_severity", p.Notify.MinSeverity))
	}

	for i, rule := range p.Suppress {
		if err := rule.Validate(); err != nil {
			return goerr.Wrap(err, "invalid suppress rule", goerr.V("index", i))
		}
	}
	return nil
}

// Validate validates a suppression rule
func (r *SuppressRule) Validate() error {
	if r.Reason == "" {
		return goerr.New("suppress rule requires a reason")
	}
	if r.Scanner == "" && r.Rule == "" && r.Path == "" && r.Package == "" {
		return goerr.New("suppress rule requires at least one pattern",
			goerr.V("reason", r.Reason))
	}
	return nil
}

// Matches returns true if the finding matches all non-empty patterns of the
// rule
func (r *SuppressRule) Matches(f *Finding) bool {
	if r.Scanner != "" && !wildcard.Match(r.Scanner, f.Scanner.String()) {
		return false
	}
	if r.Rule != "" && !wildcard.Match(r.Rule, f.RuleID) {
		return false
	}
	if r.Path != "" && !wildcard.Match(r.Path, f.Location) {
		return false
	}
	if r.Package != "" && !wildcard.Match(r.Package, f.Package) {
		return false
	}
	return true
}

// Match returns the first suppression rule matching the finding, or nil
func (p *Policy) Match(f *Finding) *SuppressRule {
	for i := range p.Suppress {
		if p.Suppress[i].Matches(f) {
			return &p.Suppress[i]
		}
	}
	return nil
}

// ShouldFail returns true if a finding of the given severity should fail the
// CI gate
func (p *Policy) ShouldFail(severity types.Severity) bool {
	return severity.Rank() >= p.FailOn.Rank() && p.FailOn.Rank() > 0
}

// ShouldNotify returns true if an event of the given severity should be
// included in notifications
func (p *Policy) ShouldNotify(severity types.Severity) bool {
	return severity.Rank() >= p.Notify.MinSeverity.Rank()
}
