package retry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type codedError struct {
	msg  string
	code string
}

func (e *codedError) Error() string { return e.msg }
func (e *codedError) Code() string  { return e.code }

func TestClassify_NilIsNotRetryable(t *testing.T) {
	assert.False(t, Classify(nil, Policy{}))
}

func TestClassify_DefaultIsRetryable(t *testing.T) {
	assert.True(t, Classify(errors.New("anything"), Policy{}))
}

func TestClassify_ClassifierHasExclusiveAuthority(t *testing.T) {
	p := Policy{
		Classifier:           func(error) bool { return false },
		RetryablePatterns:    []string{"timeout"},
		NonRetryablePatterns: []string{"fatal"},
	}

	// The classifier decides even when patterns would say otherwise.
	assert.False(t, Classify(errors.New("timeout"), p))

	p.Classifier = func(error) bool { return true }
	assert.True(t, Classify(errors.New("fatal"), p))
}

func TestClassify_BlacklistBeatsWhitelist(t *testing.T) {
	p := Policy{
		RetryablePatterns:    []string{"timeout"},
		NonRetryablePatterns: []string{"auth"},
	}

	assert.False(t, Classify(errors.New("auth timeout"), p))
}

func TestClassify_WhitelistRequiresMatch(t *testing.T) {
	p := Policy{RetryablePatterns: []string{"timeout", "unavailable"}}

	assert.True(t, Classify(errors.New("connection timeout"), p))
	assert.True(t, Classify(errors.New("service unavailable"), p))
	assert.False(t, Classify(errors.New("permission denied"), p))
}

func TestClassify_MatchesTypeName(t *testing.T) {
	p := Policy{RetryablePatterns: []string{"codedError"}}

	assert.True(t, Classify(&codedError{msg: "anything"}, p))
}

func TestClassify_MatchesErrorCode(t *testing.T) {
	p := Policy{RetryablePatterns: []string{"THROTTLED"}}

	assert.True(t, Classify(&codedError{msg: "slow down", code: "THROTTLED"}, p))
	assert.False(t, Classify(&codedError{msg: "slow down", code: "DENIED"}, p))
}

func TestClassify_SubstringContainmentIsPermissive(t *testing.T) {
	p := Policy{RetryablePatterns: []string{"Timeout"}}

	assert.True(t, Classify(errors.New("ConnectionTimeoutWrapper: gave up"), p))
}

func TestClassify_EmptyPatternsIgnored(t *testing.T) {
	p := Policy{NonRetryablePatterns: []string{""}}

	assert.True(t, Classify(errors.New("anything"), p))
}
