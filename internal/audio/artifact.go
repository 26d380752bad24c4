package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Recorder accumulates each session's inbound audio payloads into an artifact
// file on disk. Chunks are appended in arrival order; the artifact is a raw
// concatenation of the client's encoded chunks, not a remux.
type Recorder struct {
	audioDir string

	mu     sync.Mutex
	files  map[string]*artifactFile
	closed map[string]string
}

type artifactFile struct {
	path string
	f    *os.File
}

func NewRecorder(audioDir string) *Recorder {
	if audioDir == "" {
		audioDir = filepath.Join("data", "audio")
	}
	return &Recorder{
		audioDir: audioDir,
		files:    make(map[string]*artifactFile),
		closed:   make(map[string]string),
	}
}

// Append writes one chunk's payload to the session's artifact, opening it on
// first use. The file extension follows the first chunk's mime type.
func (r *Recorder) Append(sessionID string, payload []byte, mimeType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	af, ok := r.files[sessionID]
	if !ok {
		if err := os.MkdirAll(r.audioDir, 0o755); err != nil {
			return fmt.Errorf("create audio directory: %w", err)
		}

		path := filepath.Join(r.audioDir, sessionID+extensionForMime(mimeType))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open artifact file: %w", err)
		}

		af = &artifactFile{path: path, f: f}
		r.files[sessionID] = af
	}

	if _, err := af.f.Write(payload); err != nil {
		return fmt.Errorf("write artifact bytes: %w", err)
	}
	return nil
}

// Finalize closes the session's artifact and returns its path. A session
// that never delivered audio finalizes to an empty path. The path stays
// tracked so a later Discard can still remove the file when finalization
// fails downstream of the artifact.
func (r *Recorder) Finalize(sessionID string) (string, error) {
	r.mu.Lock()
	af, ok := r.files[sessionID]
	delete(r.files, sessionID)
	r.mu.Unlock()

	if !ok {
		return "", nil
	}

	if err := af.f.Close(); err != nil {
		return "", fmt.Errorf("close artifact file: %w", err)
	}

	r.mu.Lock()
	r.closed[sessionID] = af.path
	r.mu.Unlock()
	return af.path, nil
}

// Discard drops the session's artifact without keeping the file, whether it
// is still open or already finalized. Unknown sessions are a no-op.
func (r *Recorder) Discard(sessionID string) {
	r.mu.Lock()
	af, open := r.files[sessionID]
	path, done := r.closed[sessionID]
	delete(r.files, sessionID)
	delete(r.closed, sessionID)
	r.mu.Unlock()

	if open {
		_ = af.f.Close()
		_ = os.Remove(af.path)
	}
	if done {
		_ = os.Remove(path)
	}
}

func extensionForMime(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "audio/webm"), strings.HasPrefix(mimeType, "video/webm"):
		return ".webm"
	case strings.HasPrefix(mimeType, "audio/ogg"):
		return ".ogg"
	case strings.HasPrefix(mimeType, "audio/mp4"):
		return ".m4a"
	case strings.HasPrefix(mimeType, "audio/mpeg"):
		return ".mp3"
	case strings.HasPrefix(mimeType, "audio/wav"), strings.HasPrefix(mimeType, "audio/x-wav"):
		return ".wav"
	default:
		return ".bin"
	}
}
