package main

import (
	"testing"
	"time"

	"edgeriver/internal/notify"
)

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "  ", "value", "later"); got != "value" {
		t.Fatalf("firstNonEmpty = %q, want %q", got, "value")
	}
	if got := firstNonEmpty("", "   "); got != "" {
		t.Fatalf("firstNonEmpty = %q, want empty", got)
	}
}

func TestSplitAndTrim(t *testing.T) {
	got := splitAndTrim(" https://a.example , ,https://b.example ")
	want := []string{"https://a.example", "https://b.example"}
	if len(got) != len(want) {
		t.Fatalf("splitAndTrim = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("splitAndTrim[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if got := splitAndTrim("  "); got != nil {
		t.Fatalf("splitAndTrim of blank input = %v, want nil", got)
	}
}

func TestModeValue(t *testing.T) {
	if got := modeValue("", ""); got != "development" {
		t.Fatalf("modeValue default = %q", got)
	}
	if got := modeValue("", " Production "); got != "production" {
		t.Fatalf("modeValue from env = %q", got)
	}
	if got := modeValue("PRODUCTION", "development"); got != "production" {
		t.Fatalf("modeValue flag precedence = %q", got)
	}
}

func TestResolveListenAddr(t *testing.T) {
	if got := resolveListenAddr("", "development", ""); got != ":8080" {
		t.Fatalf("development default = %q", got)
	}
	if got := resolveListenAddr("", "production", ""); got != ":80" {
		t.Fatalf("production default = %q", got)
	}
	if got := resolveListenAddr("", "production", ":9000"); got != ":9000" {
		t.Fatalf("env addr = %q", got)
	}
	if got := resolveListenAddr(":7777", "production", ":9000"); got != ":7777" {
		t.Fatalf("flag precedence = %q", got)
	}
}

func TestResolveStorageDriver(t *testing.T) {
	cases := []struct {
		name      string
		flagValue string
		envValue  string
		dsn       string
		want      string
	}{
		{name: "default json", want: "json"},
		{name: "flag wins", flagValue: "Postgres", envValue: "json", want: "postgres"},
		{name: "env fallback", envValue: "postgres", want: "postgres"},
		{name: "dsn implies postgres", dsn: "postgres://localhost/edgeriver", want: "postgres"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := resolveStorageDriver(tc.flagValue, tc.envValue, tc.dsn)
			if err != nil {
				t.Fatalf("resolveStorageDriver: %v", err)
			}
			if got != tc.want {
				t.Fatalf("resolveStorageDriver = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestValidateProductionDatastore(t *testing.T) {
	if err := validateProductionDatastore("json", ""); err == nil {
		t.Fatal("expected json driver to be rejected in production")
	}
	if err := validateProductionDatastore("postgres", ""); err == nil {
		t.Fatal("expected empty DSN to be rejected in production")
	}
	if err := validateProductionDatastore("postgres", "postgres://localhost/edgeriver"); err != nil {
		t.Fatalf("expected postgres with DSN to pass, got %v", err)
	}
}

func TestResolveDuration(t *testing.T) {
	if got := resolveDuration(5*time.Second, "EDGERIVER_TEST_DURATION", time.Minute); got != 5*time.Second {
		t.Fatalf("flag precedence = %v", got)
	}
	t.Setenv("EDGERIVER_TEST_DURATION", "30s")
	if got := resolveDuration(0, "EDGERIVER_TEST_DURATION", time.Minute); got != 30*time.Second {
		t.Fatalf("env fallback = %v", got)
	}
	t.Setenv("EDGERIVER_TEST_DURATION", "not-a-duration")
	if got := resolveDuration(0, "EDGERIVER_TEST_DURATION", time.Minute); got != time.Minute {
		t.Fatalf("invalid env falls back to default, got %v", got)
	}
}

func TestResolveInt(t *testing.T) {
	if got := resolveInt(4, "EDGERIVER_TEST_INT"); got != 4 {
		t.Fatalf("flag precedence = %d", got)
	}
	t.Setenv("EDGERIVER_TEST_INT", " 8 ")
	if got := resolveInt(0, "EDGERIVER_TEST_INT"); got != 8 {
		t.Fatalf("env fallback = %d", got)
	}
	t.Setenv("EDGERIVER_TEST_INT", "bogus")
	if got := resolveInt(0, "EDGERIVER_TEST_INT"); got != 0 {
		t.Fatalf("invalid env = %d, want 0", got)
	}
}

func TestResolveQueueConcurrency(t *testing.T) {
	if got := resolveQueueConcurrency(0, false); got != 0 {
		t.Fatalf("unset = %d, want 0", got)
	}
	if got := resolveQueueConcurrency(0, true); got != 1 {
		t.Fatalf("light flag = %d, want 1", got)
	}
	if got := resolveQueueConcurrency(4, true); got != 4 {
		t.Fatalf("explicit count beats light mode, got %d", got)
	}
	t.Setenv("EDGERIVER_QUEUE_LIGHT", "true")
	if got := resolveQueueConcurrency(0, false); got != 1 {
		t.Fatalf("light env = %d, want 1", got)
	}
	t.Setenv("EDGERIVER_QUEUE_CONCURRENCY", "3")
	if got := resolveQueueConcurrency(0, false); got != 3 {
		t.Fatalf("explicit env beats light env, got %d", got)
	}
}

func TestConfigureNotifier(t *testing.T) {
	t.Setenv("EDGERIVER_NOTIFIER", "")

	notifier, err := configureNotifier("memory", notify.RedisHubConfig{})
	if err != nil {
		t.Fatalf("memory notifier: %v", err)
	}
	if notifier == nil {
		t.Fatal("expected a notifier")
	}

	if _, err := configureNotifier("redis", notify.RedisHubConfig{}); err == nil {
		t.Fatal("expected redis notifier without addr to fail")
	}

	if _, err := configureNotifier("carrier-pigeon", notify.RedisHubConfig{}); err == nil {
		t.Fatal("expected unknown notifier driver to fail")
	}
}
