package model

import "github.com/m-mizutani/goerr/v2"

// Sentinel errors for domain operations
var (
	ErrFindingNotFound = goerr.New("finding not found")
	ErrScanNotFound    = goerr.New("scan not found")
	ErrEventNotFound   = goerr.New("event not found")
	ErrAlreadyResolved = goerr.New("finding is already resolved")
)

// Error tags classifying ingest outcomes, mapped to process exit codes by
// the CLI
var (
	TagPolicyViolation = goerr.NewTag("policy_violation")
	TagScanFailure     = goerr.NewTag("scan_failure")
)
