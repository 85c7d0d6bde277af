package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/harrier/pkg/domain/types"
)

// RunResult holds the raw outcome of one scanner execution
type RunResult struct {
	Scanner  types.ScannerName
	Output   []byte // the JSON report
	Stderr   string
	ExitCode int
	Duration time.Duration
	RawPath  string // where the raw report was persisted, empty when outDir is not set
}

// commandSpec describes how to invoke a scanner binary. Tools that cannot
// write their report to stdout get a report file path substituted into args.
type commandSpec struct {
	bin        string
	args       func(reportPath string) []string
	reportFile bool  // tool writes the report to reportPath instead of stdout
	okCodes    []int // exit codes that signal success or "findings present"
}

var commandSpecs = map[types.ScannerName]commandSpec{
	types.ScannerBandit: {
		bin: "bandit",
		args: func(string) []string {
			return []string{"-r", ".", "-f", "json", "-q"}
		},
		okCodes: []int{0, 1},
	},
	types.ScannerPipAudit: {
		bin: "pip-audit",
		args: func(string) []string {
			return []string{"-f", "json", "--progress-spinner", "off"}
		},
		okCodes: []int{0, 1},
	},
	types.ScannerGitleaks: {
		bin: "gitleaks",
		args: func(reportPath string) []string {
			return []string{"detect", "--no-banner", "--exit-code", "1",
				"--report-format", "json", "--report-path", reportPath}
		},
		reportFile: true,
		okCodes:    []int{0, 1},
	},
	types.ScannerTrivy: {
		bin: "trivy",
		args: func(string) []string {
			return []string{"fs", "--format", "json", "--no-progress", "."}
		},
		okCodes: []int{0},
	},
}

// Run executes an external scanner against the target directory with the
// context's timeout and captures its report. When outDir is set, the raw
// report and a run log are persisted under <outDir>/raw/ for debugging.
// Exit codes that merely signal "findings present" are not errors.
func Run(ctx context.Context, scanner types.ScannerName, target, outDir string) (*RunResult, error) {
	logger := ctxlog.From(ctx)

	spec, ok := commandSpecs[scanner]
	if !ok {
		return nil, goerr.New("no command registered for scanner", goerr.V("scanner", scanner))
	}
	if _, err := exec.LookPath(spec.bin); err != nil {
		return nil, goerr.Wrap(err, "scanner executable not found in PATH", goerr.V("bin", spec.bin))
	}

	rawDir := ""
	if outDir != "" {
		rawDir = filepath.Join(outDir, "raw")
		if err := os.MkdirAll(rawDir, 0755); err != nil {
			return nil, goerr.Wrap(err, "failed to create raw output dir", goerr.V("dir", rawDir))
		}
	}

	reportPath := ""
	if spec.reportFile {
		if rawDir != "" {
			reportPath = filepath.Join(rawDir, scanner.String()+".json")
		} else {
			tmp, err := os.CreateTemp("", "harrier-"+scanner.String()+"-*.json")
			if err != nil {
				return nil, goerr.Wrap(err, "failed to create report temp file")
			}
			reportPath = tmp.Name()
			_ = tmp.Close()
			defer func() {
				_ = os.Remove(reportPath)
			}()
		}
	}

	args := spec.args(reportPath)
	logger.Debug("running scanner", "scanner", scanner, "bin", spec.bin, "args", args, "target", target)

	start := time.Now()
	cmd := exec.CommandContext(ctx, spec.bin, args...)
	cmd.Dir = target

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	result := &RunResult{
		Scanner:  scanner,
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = 1
		}
		if ctx.Err() == context.DeadlineExceeded {
			return result, goerr.Wrap(runErr, "scanner timed out",
				goerr.V("scanner", scanner), goerr.V("duration", result.Duration))
		}
	}

	if rawDir != "" {
		runLog := filepath.Join(rawDir, scanner.String()+"-run.txt")
		summary := fmt.Sprintf("COMMAND: %s %v\nEXIT: %d\nDURATION: %s\nSTDERR:\n%s",
			spec.bin, args, result.ExitCode, result.Duration, result.Stderr)
		if err := os.WriteFile(runLog, []byte(summary), 0644); err != nil {
			logger.Warn("failed to write scanner run log", "path", runLog, "error", err)
		}
	}

	if !exitCodeOK(result.ExitCode, spec.okCodes) {
		return result, goerr.New("scanner execution failed",
			goerr.V("scanner", scanner),
			goerr.V("exitCode", result.ExitCode),
			goerr.V("stderr", tail(result.Stderr, 512)),
		)
	}

	if spec.reportFile {
		data, err := os.ReadFile(reportPath)
		if err != nil {
			return result, goerr.Wrap(err, "failed to read scanner report file",
				goerr.V("scanner", scanner), goerr.V("path", reportPath))
		}
		result.Output = data
		if rawDir != "" {
			result.RawPath = reportPath
		}
	} else {
		result.Output = stdout.Bytes()
		if rawDir != "" {
			rawPath := filepath.Join(rawDir, scanner.String()+".json")
			if err := os.WriteFile(rawPath, result.Output, 0644); err != nil {
				logger.Warn("failed to persist raw report", "path", rawPath, "error", err)
			} else {
				result.RawPath = rawPath
			}
		}
	}

	logger.Info("scanner finished",
		"scanner", scanner,
		"exitCode", result.ExitCode,
		"duration", result.Duration,
		"reportBytes", len(result.Output),
	)

	return result, nil
}

func exitCodeOK(code int, okCodes []int) bool {
	for _, ok := range okCodes {
		if code == ok {
			return true
		}
	}
	return false
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
