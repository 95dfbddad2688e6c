package types

import "testing"

func TestNewIDsAreUnique(t *testing.T) {
	if NewIncidentID() == NewIncidentID() {
		t.Error("expected distinct incident ids")
	}
	if NewMediaID() == NewMediaID() {
		t.Error("expected distinct media ids")
	}
}

func TestNewSessionKey(t *testing.T) {
	key := NewSessionKey("telegram", "42")
	if key != "telegram:42" {
		t.Errorf("expected telegram:42, got %q", key)
	}
	if key.Channel() != "telegram" {
		t.Errorf("expected channel telegram, got %q", key.Channel())
	}
	if SessionKey("console").Channel() != "console" {
		t.Error("key without colon should be its own channel")
	}
}
