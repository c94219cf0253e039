package runner

import (
	"errors"
	"os/exec"
	"strings"

	"github.com/R005ter/fwp"
)

// Signature tables for failure classification. Matching is ad hoc by
// necessity — the tool's output is the only channel the upstream's
// verdict arrives on — but the decision logic is kept here as a pure
// function over an enumerated set so it can be tested exhaustively.

// invalidSourceSignatures mark the source identity itself as unusable.
// No alternate route or identity will change the outcome.
var invalidSourceSignatures = []string{
	"is not a valid URL",
	"Unsupported URL",
	"Incomplete YouTube ID",
	"Video unavailable",
	"Private video",
	"This video has been removed",
	"This video is no longer available",
}

// upstreamBlockedSignatures mark this route/identity combination as
// rejected; the next ladder rung may fare better.
var upstreamBlockedSignatures = []string{
	"Sign in to confirm you're not a bot",
	"Sign in to confirm your age",
	"HTTP Error 403",
	"HTTP Error 429",
	"Unable to download API page",
	"Unable to download webpage",
	"Read timed out",
	"Connection refused",
	"Connection reset by peer",
	"Temporary failure in name resolution",
	"The read operation timed out",
}

// identityBlockedSignatures are the subset of blocks that implicate the
// impersonated client rather than the network route. They trigger the
// ladder's one mid-job reorder: same route, different identity, first.
var identityBlockedSignatures = []string{
	"Sign in to confirm you're not a bot",
	"This video is not available on this app",
	"Please use the YouTube app",
	"player response is not available",
}

// Classify maps one attempt's exit error and collected output to a
// failure class. Pure: no I/O, no state.
func Classify(exitErr error, output string) fwp.FailureClass {
	var execErr *exec.Error
	if errors.As(exitErr, &execErr) {
		// The tool binary itself could not be run.
		return fwp.FailureToolUnavailable
	}
	for _, sig := range invalidSourceSignatures {
		if strings.Contains(output, sig) {
			return fwp.FailureInvalidSource
		}
	}
	for _, sig := range upstreamBlockedSignatures {
		if strings.Contains(output, sig) {
			return fwp.FailureUpstreamBlocked
		}
	}
	if strings.TrimSpace(output) == "" {
		// Crashed before producing any output.
		return fwp.FailureToolUnavailable
	}
	// Unknown failure modes are treated as blockage: advancing the
	// ladder is cheap and a genuine bad source will fail every rung.
	return fwp.FailureUpstreamBlocked
}

// IdentityBlocked reports whether the failure output implicates the
// client identity specifically.
func IdentityBlocked(output string) bool {
	for _, sig := range identityBlockedSignatures {
		if strings.Contains(output, sig) {
			return true
		}
	}
	return false
}
