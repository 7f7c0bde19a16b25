package router

import "testing"

func TestDetectTransferAlice(t *testing.T) {
	r := New()
	target, ok := r.DetectTransfer("Can I talk to Alice please")
	if !ok {
		t.Fatalf("DetectTransfer() ok = false, want true")
	}
	if target.Persona != "alice" {
		t.Fatalf("Persona = %q, want %q", target.Persona, "alice")
	}
}

func TestDetectTransferBobBackReference(t *testing.T) {
	r := New()
	target, ok := r.DetectTransfer("go back to bob please")
	if !ok {
		t.Fatalf("DetectTransfer() ok = false, want true")
	}
	if target.Persona != "bob" {
		t.Fatalf("Persona = %q, want %q", target.Persona, "bob")
	}
}

func TestDetectTransferNoMatch(t *testing.T) {
	r := New()
	if _, ok := r.DetectTransfer("I want to redo my kitchen."); ok {
		t.Fatalf("DetectTransfer() ok = true, want false")
	}
}

func TestDetectTransferEmpty(t *testing.T) {
	r := New()
	if _, ok := r.DetectTransfer("   "); ok {
		t.Fatalf("DetectTransfer() ok = true, want false")
	}
}
