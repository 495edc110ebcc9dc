package main

import (
	"testing"
	"time"
)

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", " ", ":8090"); got != ":8090" {
		t.Fatalf("firstNonEmpty = %q", got)
	}
}

func TestSplitOrigins(t *testing.T) {
	got := splitAndTrim("https://player.example, ,https://cdn.example ")
	if len(got) != 2 || got[0] != "https://player.example" || got[1] != "https://cdn.example" {
		t.Fatalf("splitAndTrim = %v", got)
	}
	if got := splitAndTrim(" , "); got != nil {
		t.Fatalf("splitAndTrim of blank input = %v, want nil", got)
	}
}

func TestResolveDuration(t *testing.T) {
	if got := resolveDuration(time.Second, "EDGERIVER_EDGE_TEST_DURATION"); got != time.Second {
		t.Fatalf("flag precedence = %v", got)
	}
	t.Setenv("EDGERIVER_EDGE_TEST_DURATION", "45s")
	if got := resolveDuration(0, "EDGERIVER_EDGE_TEST_DURATION"); got != 45*time.Second {
		t.Fatalf("env fallback = %v", got)
	}
}

func TestResolveIntEnv(t *testing.T) {
	t.Setenv("EDGERIVER_EDGE_TEST_INT", "12")
	if got := resolveIntEnv(0, "EDGERIVER_EDGE_TEST_INT"); got != 12 {
		t.Fatalf("env fallback = %d", got)
	}
	if got := resolveIntEnv(3, "EDGERIVER_EDGE_TEST_INT"); got != 3 {
		t.Fatalf("flag precedence = %d", got)
	}
}
