package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/echoscribe/echoscribe/internal/transcribe"
)

// Writer exports a finalized session transcript as a markdown file, one file
// per session. The durable record stays in sqlite; this is the grep-friendly
// copy.
type Writer struct {
	dir string
	mu  sync.Mutex
}

func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

func (w *Writer) Export(sessionID string, chunks []transcribe.Chunk) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", w.dir, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Session %s\n\n", sessionID)
	for _, c := range chunks {
		if strings.TrimSpace(c.Text) == "" {
			continue
		}
		fmt.Fprintln(&b, c.FormatMarkdown())
	}

	path := filepath.Join(w.dir, sessionID+".md")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	return nil
}
