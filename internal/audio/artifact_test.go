package audio

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRecorderAppendAndFinalize(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(dir)

	if err := r.Append("s1", []byte("chunk-a"), "audio/webm;codecs=opus"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := r.Append("s1", []byte("chunk-b"), "audio/webm;codecs=opus"); err != nil {
		t.Fatalf("append: %v", err)
	}

	path, err := r.Finalize("s1")
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if filepath.Base(path) != "s1.webm" {
		t.Fatalf("expected webm artifact, got %q", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(data) != "chunk-achunk-b" {
		t.Fatalf("expected appended payloads, got %q", data)
	}
}

func TestRecorderFinalizeWithoutAudio(t *testing.T) {
	r := NewRecorder(t.TempDir())

	path, err := r.Finalize("never-seen")
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if path != "" {
		t.Fatalf("expected empty path for audio-less session, got %q", path)
	}
}

func TestRecorderDiscard(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(dir)

	if err := r.Append("s1", []byte("doomed"), "audio/ogg"); err != nil {
		t.Fatalf("append: %v", err)
	}

	r.Discard("s1")

	if _, err := os.Stat(filepath.Join(dir, "s1.ogg")); !os.IsNotExist(err) {
		t.Fatalf("expected artifact removed, stat err = %v", err)
	}

	// Discard of an unknown session is a no-op.
	r.Discard("s2")
}

func TestRecorderDiscardAfterFinalize(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(dir)

	if err := r.Append("s1", []byte("kept until the tx fails"), "audio/webm"); err != nil {
		t.Fatalf("append: %v", err)
	}
	path, err := r.Finalize("s1")
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected artifact on disk after finalize: %v", err)
	}

	r.Discard("s1")

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected finalized artifact removed, stat err = %v", err)
	}

	// Once discarded the session is fully forgotten.
	r.Discard("s1")
}

func TestRecorderSeparateSessions(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(dir)

	if err := r.Append("s1", []byte("one"), "audio/mp4"); err != nil {
		t.Fatalf("append s1: %v", err)
	}
	if err := r.Append("s2", []byte("two"), "audio/mpeg"); err != nil {
		t.Fatalf("append s2: %v", err)
	}

	p1, err := r.Finalize("s1")
	if err != nil {
		t.Fatalf("finalize s1: %v", err)
	}
	p2, err := r.Finalize("s2")
	if err != nil {
		t.Fatalf("finalize s2: %v", err)
	}

	if filepath.Base(p1) != "s1.m4a" || filepath.Base(p2) != "s2.mp3" {
		t.Fatalf("unexpected artifact names: %q, %q", p1, p2)
	}
}

func TestExtensionForMime(t *testing.T) {
	tests := []struct {
		mime, want string
	}{
		{"audio/webm", ".webm"},
		{"audio/webm;codecs=opus", ".webm"},
		{"video/webm", ".webm"},
		{"audio/ogg", ".ogg"},
		{"audio/mp4", ".m4a"},
		{"audio/mpeg", ".mp3"},
		{"audio/wav", ".wav"},
		{"audio/x-wav", ".wav"},
		{"", ".bin"},
		{"application/octet-stream", ".bin"},
	}
	for _, tt := range tests {
		if got := extensionForMime(tt.mime); got != tt.want {
			t.Errorf("extensionForMime(%q) = %q, want %q", tt.mime, got, tt.want)
		}
	}
}
