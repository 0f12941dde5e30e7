package objectstorage

import (
	"os"
	"testing"
)

func TestSubstituteEnvExpandsPlaceholder(t *testing.T) {
	os.Setenv("OS_TEST_BUCKET_KEY", "super-secret")
	defer os.Unsetenv("OS_TEST_BUCKET_KEY")

	out, err := SubstituteEnv(map[string]string{"key": "${OS_TEST_BUCKET_KEY}"})
	if err != nil {
		t.Fatalf("SubstituteEnv: %v", err)
	}
	if out["key"] != "super-secret" {
		t.Fatalf("expected substitution, got %q", out["key"])
	}
}

func TestSubstituteEnvMissingVariableFails(t *testing.T) {
	os.Unsetenv("OS_TEST_DOES_NOT_EXIST")
	_, err := SubstituteEnv(map[string]string{"key": "${OS_TEST_DOES_NOT_EXIST}"})
	if err == nil {
		t.Fatalf("expected error for unset placeholder variable")
	}
}

func TestObjectKeyAndPrefix(t *testing.T) {
	if got := ObjectKey("quotes", "quotes", "job1", ""); got != "logs/quotes/quotes/job1.log" {
		t.Fatalf("unexpected object key: %q", got)
	}
	if got := ObjectKey("quotes", "quotes", "job1", "gz"); got != "logs/quotes/quotes/job1.log.gz" {
		t.Fatalf("unexpected compressed object key: %q", got)
	}
	if got := ObjectKeyPrefix("quotes", "quotes", "job1"); got != "logs/quotes/quotes/job1" {
		t.Fatalf("unexpected prefix: %q", got)
	}
}
