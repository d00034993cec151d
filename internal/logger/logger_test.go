package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func observed(redact bool) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return &Logger{SugaredLogger: zap.New(core).Sugar(), redact: redact}, logs
}

func TestRedactsSecrets(t *testing.T) {
	l, logs := observed(true)
	l.Info("login", "accessToken", "abc", "Password", "hunter2", "student", "s-1")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["accessToken"] != "[REDACTED]" || fields["Password"] != "[REDACTED]" {
		t.Fatalf("expected secrets redacted, got %v", fields)
	}
	if fields["student"] != "s-1" {
		t.Fatalf("expected student id untouched, got %v", fields["student"])
	}
}

func TestHashesEmails(t *testing.T) {
	l, logs := observed(true)
	l.With("email", "a@b.c").Warn("enrolled")

	got, _ := logs.All()[0].ContextMap()["email"].(string)
	if got == "a@b.c" || len(got) != len("hash:")+12 {
		t.Fatalf("expected hashed email, got %q", got)
	}
}

func TestRedactionDisabled(t *testing.T) {
	l, logs := observed(false)
	l.Error("failed", "token", "abc")

	fields := logs.All()[0].ContextMap()
	if fields["token"] != "abc" {
		t.Fatalf("expected raw value without redaction, got %v", fields["token"])
	}
	Nop().Info("discarded", "k", "v")
}
