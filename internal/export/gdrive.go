// Package export pushes local archives to Google Drive.
package export

import (
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// Syncer uploads the conversation archive to a Drive folder. Each date gets
// one file; repeat syncs for the same date update the existing file in
// place.
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

// SyncDatabase uploads the archive database as-is.
func (s *Syncer) SyncDatabase(localPath, date string) error {
	return s.sync(localPath, fmt.Sprintf("voxflow-%s.db", date), date+":db", "")
}

// SyncTranscript uploads a daily markdown transcript, converted to a Google
// Doc so it is readable in place.
func (s *Syncer) SyncTranscript(localPath, date string) error {
	return s.sync(localPath, fmt.Sprintf("voxflow-transcript-%s", date), date+":md", "application/vnd.google-apps.document")
}

func (s *Syncer) sync(localPath, name, key, mimeType string) error {
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
