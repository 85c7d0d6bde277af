package model_test

import (
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/harrier/pkg/domain/model"
	"github.com/secmon-lab/harrier/pkg/domain/types"
)

func TestNewFinding(t *testing.T) {
	t.Run("creates valid finding", func(t *testing.T) {
		finding, err := model.NewFinding(types.ScannerBandit, "B603", "mypylogger", "src/mypylogger/core.py")
		gt.NoError(t, err)
		gt.V(t, finding).NotNil()
		gt.Equal(t, finding.Scanner, types.ScannerBandit)
		gt.Equal(t, finding.RuleID, "B603")
		gt.Equal(t, finding.Package, "mypylogger")
		gt.Equal(t, finding.Status, types.FindingStatusOpen)
		gt.Equal(t, finding.Severity, types.SeverityUnknown)
		gt.V(t, finding.ID).NotEqual(types.FindingID(""))
	})

	t.Run("same identity yields same ID", func(t *testing.T) {
		a, err := model.NewFinding(types.ScannerPipAudit, "PYSEC-2024-48", "requests")
		gt.NoError(t, err)
		b, err := model.NewFinding(types.ScannerPipAudit, "PYSEC-2024-48", "requests")
		gt.NoError(t, err)
		gt.Equal(t, a.ID, b.ID)
	})

	t.Run("different identity yields different ID", func(t *testing.T) {
		a, err := model.NewFinding(types.ScannerBandit, "B603", "mypylogger", "src/a.py")
		gt.NoError(t, err)
		b, err := model.NewFinding(types.ScannerBandit, "B603", "mypylogger", "src/b.py")
		gt.NoError(t, err)
		gt.V(t, a.ID).NotEqual(b.ID)
	})

	t.Run("fails with invalid scanner", func(t *testing.T) {
		_, err := model.NewFinding(types.ScannerName("semgrep"), "R1", "pkg")
		gt.Error(t, err)
		gt.S(t, err.Error()).Contains("invalid scanner name")
	})

	t.Run("fails with empty rule ID", func(t *testing.T) {
		_, err := model.NewFinding(types.ScannerBandit, "", "pkg")
		gt.Error(t, err)
		gt.S(t, err.Error()).Contains("rule ID is required")
	})

	t.Run("fails with empty package", func(t *testing.T) {
		_, err := model.NewFinding(types.ScannerBandit, "B101", "")
		gt.Error(t, err)
		gt.S(t, err.Error()).Contains("package is required")
	})
}

func TestFindingLifecycle(t *testing.T) {
	newFinding := func(t *testing.T) *model.Finding {
		finding, err := model.NewFinding(types.ScannerBandit, "B603", "mypylogger", "src/core.py")
		gt.NoError(t, err)
		finding.Severity = types.SeverityMedium
		return finding
	}

	t.Run("resolve open finding", func(t *testing.T) {
		finding := newFinding(t)
		at := time.Now()
		scanID := types.NewScanID()

		gt.NoError(t, finding.Resolve(at, scanID))
		gt.Equal(t, finding.Status, types.FindingStatusResolved)
		gt.V(t, finding.ResolvedAt).NotNil()
		gt.Equal(t, *finding.ResolvedAt, at)
		gt.Equal(t, finding.LastScanID, scanID)
		gt.False(t, finding.IsOpen())
	})

	t.Run("resolve twice fails", func(t *testing.T) {
		finding := newFinding(t)
		gt.NoError(t, finding.Resolve(time.Now(), types.NewScanID()))
		err := finding.Resolve(time.Now(), types.NewScanID())
		gt.Error(t, err)
		gt.S(t, err.Error()).Contains("already resolved")
	})

	t.Run("reopen resolved finding", func(t *testing.T) {
		finding := newFinding(t)
		gt.NoError(t, finding.Resolve(time.Now(), types.NewScanID()))

		at := time.Now()
		scanID := types.NewScanID()
		gt.NoError(t, finding.Reopen(at, scanID))
		gt.Equal(t, finding.Status, types.FindingStatusOpen)
		gt.V(t, finding.ResolvedAt).Nil()
		gt.Equal(t, finding.LastSeenAt, at)
		gt.Equal(t, finding.LastScanID, scanID)
	})

	t.Run("reopen open finding fails", func(t *testing.T) {
		finding := newFinding(t)
		err := finding.Reopen(time.Now(), types.NewScanID())
		gt.Error(t, err)
		gt.S(t, err.Error()).Contains("already open")
	})

	t.Run("touch updates last seen", func(t *testing.T) {
		finding := newFinding(t)
		at := time.Now().Add(time.Hour)
		scanID := types.NewScanID()
		finding.Touch(at, scanID)
		gt.Equal(t, finding.LastSeenAt, at)
		gt.Equal(t, finding.LastScanID, scanID)
		gt.Equal(t, finding.Status, types.FindingStatusOpen)
	})
}

func TestFindingSource(t *testing.T) {
	t.Run("prefers location", func(t *testing.T) {
		finding, err := model.NewFinding(types.ScannerBandit, "B603", "mypylogger", "src/core.py")
		gt.NoError(t, err)
		finding.Location = "src/core.py:42"
		gt.Equal(t, finding.Source(), "src/core.py:42")
	})

	t.Run("falls back to package", func(t *testing.T) {
		finding, err := model.NewFinding(types.ScannerPipAudit, "PYSEC-2024-48", "requests")
		gt.NoError(t, err)
		gt.Equal(t, finding.Source(), "requests")
	})
}

func TestFindingValidate(t *testing.T) {
	t.Run("valid finding passes", func(t *testing.T) {
		finding, err := model.NewFinding(types.ScannerTrivy, "CVE-2024-1234", "libssl", "debian:12")
		gt.NoError(t, err)
		finding.Severity = types.SeverityHigh
		gt.NoError(t, finding.Validate())
	})

	t.Run("rejects invalid severity", func(t *testing.T) {
		finding, err := model.NewFinding(types.ScannerTrivy, "CVE-2024-1234", "libssl")
		gt.NoError(t, err)
		finding.Severity = types.Severity("catastrophic")
		gt.Error(t, finding.Validate())
	})

	t.Run("rejects invalid status", func(t *testing.T) {
		finding, err := model.NewFinding(types.ScannerTrivy, "CVE-2024-1234", "libssl")
		gt.NoError(t, err)
		finding.Status = types.FindingStatus("closed")
		gt.Error(t, finding.Validate())
	})
}
