package git

import (
	"strings"
)

// isPermanentGitError classifies push/transport errors that retrying
// cannot fix: bad credentials, missing refs, protocol mismatches.
// Network errors (refused, reset, timeout) are all transient: the whole
// point of the deploy retry policy is to ride out exactly those.
func isPermanentGitError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "auth") || strings.Contains(msg, "permission") || strings.Contains(msg, "denied") {
		return true
	}
	if strings.Contains(msg, "not found") || strings.Contains(msg, "no such remote") || strings.Contains(msg, "invalid reference") {
		return true
	}
	if strings.Contains(msg, "unsupported protocol") {
		return true
	}
	return false
}
