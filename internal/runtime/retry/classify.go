package retry

import (
	"fmt"
	"strings"
)

// Coder is implemented by errors that carry a machine-readable code. The code
// participates in pattern matching alongside the message and the type name.
type Coder interface {
	Code() string
}

// Classify reports whether err should be retried under the policy.
//
// Precedence: a custom Classifier has exclusive authority; otherwise the
// non-retryable blacklist wins over the retryable whitelist; when a whitelist
// is set the error must match it; with no configuration at all the default is
// retryable.
//
// Matching is substring containment against the error's message, its Go type
// name, and its code when it implements Coder. The containment check is
// deliberately permissive (pattern "Timeout" also matches
// "ConnectionTimeoutWrapper") and mirrors the behaviour callers rely on.
func Classify(err error, p Policy) bool {
	if err == nil {
		return false
	}

	if p.Classifier != nil {
		return p.Classifier(err)
	}

	target := matchTarget(err)

	for _, pattern := range p.NonRetryablePatterns {
		if pattern != "" && strings.Contains(target, pattern) {
			return false
		}
	}

	if len(p.RetryablePatterns) > 0 {
		for _, pattern := range p.RetryablePatterns {
			if pattern != "" && strings.Contains(target, pattern) {
				return true
			}
		}
		return false
	}

	return true
}

func matchTarget(err error) string {
	var b strings.Builder
	b.WriteString(err.Error())
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("%T", err))
	if coder, ok := err.(Coder); ok {
		b.WriteString("\n")
		b.WriteString(coder.Code())
	}
	return b.String()
}
