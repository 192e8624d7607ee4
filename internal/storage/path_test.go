package storage

import "testing"

func TestExportKey(t *testing.T) {
	key, err := ExportKey("7f9c2f1e-session", "a1b2-message")
	if err != nil {
		t.Fatalf("ExportKey() error = %v", err)
	}
	want := "exports/7f9c2f1e-session/a1b2-message.parquet"
	if key != want {
		t.Fatalf("ExportKey() = %q, want %q", key, want)
	}
}

func TestExportKeyRejectsInvalidComponent(t *testing.T) {
	if _, err := ExportKey("../oops", "m"); err == nil {
		t.Fatal("expected invalid session id error")
	}
	if _, err := ExportKey("s", ""); err == nil {
		t.Fatal("expected invalid message id error")
	}
}
