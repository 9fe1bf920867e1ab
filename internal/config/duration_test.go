package config

import (
	"testing"
	"time"
)

func TestParseDurationField(t *testing.T) {
	t.Parallel()

	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: got %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", " 12h "); err != nil || d != 12*time.Hour {
		t.Fatalf("12h: got %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "12 hours"); err == nil {
		t.Fatal("bad duration accepted")
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative duration accepted")
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()

	if d, _ := ParseDurationOrDefault("x", "", time.Minute); d != time.Minute {
		t.Fatalf("empty should fall back, got %v", d)
	}
	if d, _ := ParseDurationOrDefault("x", "5s", time.Minute); d != 5*time.Second {
		t.Fatalf("explicit value lost, got %v", d)
	}
}
