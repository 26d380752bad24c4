package gdrive

import (
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// Syncer uploads finalized session artifacts to a Google Drive folder.
// Transcripts are converted to Google Docs; audio files are uploaded as-is.
// Repeated syncs for the same session update the existing Drive file.
type Syncer struct {
	service  *drive.Service
	folderID string
	fileIDs  map[string]string
	mu       sync.Mutex
}

func NewSyncer(ctx context.Context, credPath, folderID string) (*Syncer, error) {
	creds, err := os.ReadFile(credPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	config, err := google.CredentialsFromJSONWithTypeAndParams(ctx, creds, google.ServiceAccount, google.CredentialsParams{Scopes: []string{drive.DriveFileScope}})
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	svc, err := drive.NewService(ctx, option.WithCredentials(config))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	return &Syncer{
		service:  svc,
		folderID: folderID,
		fileIDs:  make(map[string]string),
	}, nil
}

// SyncTranscript uploads a session transcript as a Google Doc named after
// the session.
func (s *Syncer) SyncTranscript(localPath, sessionID string) error {
	name := fmt.Sprintf("echoscribe-%s", sessionID)
	return s.sync(localPath, "transcript:"+sessionID, name, "application/vnd.google-apps.document")
}

// SyncAudio uploads a session audio artifact without conversion.
func (s *Syncer) SyncAudio(localPath, sessionID string) error {
	name := fmt.Sprintf("echoscribe-%s-audio", sessionID)
	return s.sync(localPath, "audio:"+sessionID, name, "")
}

func (s *Syncer) sync(localPath, key, name, mimeType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	if fileID, ok := s.fileIDs[key]; ok {
		_, err = s.service.Files.Update(fileID, &drive.File{}).Media(f).Do()
		if err != nil {
			return fmt.Errorf("drive update: %w", err)
		}
		return nil
	}

	meta := &drive.File{
		Name:    name,
		Parents: []string{s.folderID},
	}
	if mimeType != "" {
		meta.MimeType = mimeType
	}

	doc, err := s.service.Files.Create(meta).Media(f).Do()
	if err != nil {
		return fmt.Errorf("drive create: %w", err)
	}

	s.fileIDs[key] = doc.Id
	return nil
}
