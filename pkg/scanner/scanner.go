package scanner

import (
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/harrier/pkg/domain/model"
	"github.com/secmon-lab/harrier/pkg/domain/types"
	"github.com/secmon-lab/harrier/pkg/scanner/bandit"
	"github.com/secmon-lab/harrier/pkg/scanner/gitleaks"
	"github.com/secmon-lab/harrier/pkg/scanner/pipaudit"
	"github.com/secmon-lab/harrier/pkg/scanner/trivy"
)

// Parser converts one scanner's raw JSON report into normalized findings.
// Detect must be cheap and side-effect free; it is called with arbitrary
// bytes during format sniffing.
type Parser interface {
	Name() types.ScannerName
	Detect(data []byte) bool
	// Parse converts a raw report into findings. target is the scanned
	// package name, used when the tool reports no per-finding package.
	Parse(data []byte, target string) ([]*model.Finding, error)
}

// All returns every registered parser in a stable order
func All() []Parser {
	return []Parser{
		bandit.New(),
		pipaudit.New(),
		gitleaks.New(),
		trivy.New(),
	}
}

// ByName returns the parser for the given scanner name
func ByName(name types.ScannerName) (Parser, error) {
	for _, p := range All() {
		if p.Name() == name {
			return p, nil
		}
	}
	return nil, goerr.New("unknown scanner", goerr.V("scanner", name))
}

// Detect sniffs the report format and returns the matching parser
func Detect(data []byte) (Parser, error) {
	for _, p := range All() {
		if p.Detect(data) {
			return p, nil
		}
	}
	return nil, goerr.New("unrecognized report format")
}
