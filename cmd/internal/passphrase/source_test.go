package passphrase

import "testing"

func TestSourcePrefersEnv(t *testing.T) {
	t.Setenv("TSEE_TEST_PASS", "hunter2")
	s := NewSource("TSEE_TEST_PASS", "")
	got, err := s.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "hunter2" {
		t.Fatalf("unexpected passphrase %q", got)
	}
}

func TestSourceRejectsBlankEnv(t *testing.T) {
	t.Setenv("TSEE_TEST_PASS", "   ")
	if _, err := NewSource("TSEE_TEST_PASS", "").Get(); err == nil {
		t.Fatalf("expected error for blank passphrase")
	}
}

func TestStatic(t *testing.T) {
	if v, err := Static("secret").Get(); err != nil || v != "secret" {
		t.Fatalf("unexpected static result %q %v", v, err)
	}
	if _, err := Static("").Get(); err == nil {
		t.Fatalf("expected error for empty static passphrase")
	}
}
