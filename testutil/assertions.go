// Package testutil holds assertions and doubles shared by the package tests.
package testutil

import (
	"encoding/json"
	"math"
	"reflect"
	"strings"
	"testing"
	"time"
)

// pollInterval is how often WaitForCondition re-checks.
const pollInterval = 10 * time.Millisecond

// AssertEqual fails unless expected and actual are deeply equal.
func AssertEqual(t testing.TB, expected, actual interface{}, msg string) {
	t.Helper()
	if !reflect.DeepEqual(expected, actual) {
		t.Fatalf("%s: expected %v (%T), got %v (%T)", msg, expected, expected, actual, actual)
	}
}

func AssertTrue(t testing.TB, condition bool, msg string) {
	t.Helper()
	if !condition {
		t.Fatalf("%s: expected true", msg)
	}
}

func AssertFalse(t testing.TB, condition bool, msg string) {
	t.Helper()
	if condition {
		t.Fatalf("%s: expected false", msg)
	}
}

func AssertNoError(t testing.TB, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: unexpected error: %v", msg, err)
	}
}

// AssertErrorContains fails on a nil error or one whose text lacks substr.
func AssertErrorContains(t testing.TB, err error, substr string, msg string) {
	t.Helper()
	switch {
	case err == nil:
		t.Fatalf("%s: expected an error containing %q, got nil", msg, substr)
	case !strings.Contains(err.Error(), substr):
		t.Fatalf("%s: error %q does not contain %q", msg, err.Error(), substr)
	}
}

func AssertStringContains(t testing.TB, str, substr string, msg string) {
	t.Helper()
	if !strings.Contains(str, substr) {
		t.Fatalf("%s: %q does not contain %q", msg, str, substr)
	}
}

func AssertStringNotContains(t testing.TB, str, substr string, msg string) {
	t.Helper()
	if strings.Contains(str, substr) {
		t.Fatalf("%s: %q should not contain %q", msg, str, substr)
	}
}

// WaitForCondition polls condition until it holds or timeout passes.
func WaitForCondition(t testing.TB, condition func() bool, timeout time.Duration, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatalf("%s: condition not met within %v", msg, timeout)
		}
		time.Sleep(pollInterval)
	}
}

func AssertFloatNear(t testing.TB, expected, actual, eps float64, msg string) {
	t.Helper()
	if math.Abs(expected-actual) > eps {
		t.Fatalf("%s: expected %v ± %v, got %v", msg, expected, eps, actual)
	}
}

// MustMarshalJSON returns the JSON text of v.
func MustMarshalJSON(t testing.TB, v interface{}) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal JSON: %v", err)
	}
	return string(data)
}
