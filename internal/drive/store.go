// Package drive is the content store on a Google Drive shared drive.
package drive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/chmdznr/deal-drive-sync/pkg/models"
)

const (
	folderMimeType = "application/vnd.google-apps.folder"
	fileFields     = "id, name, webViewLink, appProperties"
)

// Config selects the shared drive and the service account credentials.
type Config struct {
	// DriveID wins over DriveName when both are set.
	DriveID         string
	DriveName       string
	CredentialsJSON []byte
	CredentialsFile string
}

// Store is a content store on one shared drive.
type Store struct {
	svc       *drive.Service
	driveID   string
	driveName string

	mu       sync.Mutex
	resolved string
}

// New creates a Drive service authenticated with the configured service account.
func New(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Store, error) {
	if cfg.DriveID == "" && cfg.DriveName == "" {
		return nil, errors.New("shared drive id or name is required")
	}
	switch {
	case len(cfg.CredentialsJSON) > 0:
		opts = append(opts, option.WithCredentialsJSON(cfg.CredentialsJSON))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	opts = append(opts, option.WithScopes(drive.DriveScope))

	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize drive service: %w", err)
	}
	return &Store{svc: svc, driveID: cfg.DriveID, driveName: cfg.DriveName}, nil
}

// ResolveRoot validates the shared drive and returns its id, which is also the id of its
// root folder.
func (s *Store) ResolveRoot(ctx context.Context) (string, error) {
	if s.driveID != "" {
		d, err := s.svc.Drives.Get(s.driveID).Fields("id, name").Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("shared drive %s: %w", s.driveID, err)
		}
		s.remember(d.Id)
		return d.Id, nil
	}

	list, err := s.svc.Drives.List().
		Q(fmt.Sprintf("name = '%s'", escapeQuery(s.driveName))).
		Fields("drives(id, name)").
		PageSize(10).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("shared drive %q: %w", s.driveName, err)
	}
	for _, d := range list.Drives {
		if d.Name == s.driveName {
			s.remember(d.Id)
			return d.Id, nil
		}
	}
	return "", fmt.Errorf("shared drive %q not found", s.driveName)
}

// EnsureFolder looks the folder up by exact name under its parent and creates it when missing.
func (s *Store) EnsureFolder(ctx context.Context, rootID, parentID, name string) (string, error) {
	parent := parentID
	if parent == "" {
		parent = rootID
	}

	q := fmt.Sprintf("name = '%s' and mimeType = '%s' and '%s' in parents and trashed = false",
		escapeQuery(name), folderMimeType, escapeQuery(parent))
	list, err := s.svc.Files.List().
		Q(q).
		Corpora("drive").
		DriveId(rootID).
		IncludeItemsFromAllDrives(true).
		SupportsAllDrives(true).
		Fields("files(id, name)").
		PageSize(1).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("find folder %q: %w", name, err)
	}
	if len(list.Files) > 0 {
		return list.Files[0].Id, nil
	}

	created, err := s.svc.Files.Create(&drive.File{
		Name:     name,
		MimeType: folderMimeType,
		Parents:  []string{parent},
	}).SupportsAllDrives(true).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("create folder %q: %w", name, err)
	}
	return created.Id, nil
}

// FindByAppProperties searches folderID for a file carrying every property.
func (s *Store) FindByAppProperties(ctx context.Context, folderID string, props map[string]string) (string, error) {
	call := s.svc.Files.List().
		Q(appPropertiesQuery(folderID, props)).
		IncludeItemsFromAllDrives(true).
		SupportsAllDrives(true).
		Fields("files(id)").
		PageSize(1).
		Context(ctx)
	if id := s.rootID(); id != "" {
		call = call.Corpora("drive").DriveId(id)
	} else {
		call = call.Corpora("allDrives")
	}

	list, err := call.Do()
	if err != nil {
		return "", err
	}
	if len(list.Files) == 0 {
		return "", nil
	}
	return list.Files[0].Id, nil
}

// GetMetadata returns nil, nil for a file that no longer exists or is trashed.
func (s *Store) GetMetadata(ctx context.Context, fileID string) (*models.RemoteFile, error) {
	f, err := s.svc.Files.Get(fileID).
		SupportsAllDrives(true).
		Fields(fileFields + ", trashed").
		Context(ctx).
		Do()
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if f.Trashed {
		return nil, nil
	}
	file := toRemoteFile(f)
	return &file, nil
}

func (s *Store) Upload(ctx context.Context, folderID, name, mimeType string, data []byte, props map[string]string) (models.RemoteFile, error) {
	f, err := s.svc.Files.Create(&drive.File{
		Name:          name,
		MimeType:      mimeType,
		Parents:       []string{folderID},
		AppProperties: props,
	}).
		Media(bytes.NewReader(data), googleapi.ContentType(mimeType)).
		SupportsAllDrives(true).
		Fields(fileFields).
		Context(ctx).
		Do()
	if err != nil {
		return models.RemoteFile{}, err
	}
	return toRemoteFile(f), nil
}

// GrantDomainPermission shares fileID with everyone in domain.
func (s *Store) GrantDomainPermission(ctx context.Context, fileID, domain, role string) error {
	_, err := s.svc.Permissions.Create(fileID, &drive.Permission{
		Type:   "domain",
		Domain: domain,
		Role:   role,
	}).SupportsAllDrives(true).SendNotificationEmail(false).Context(ctx).Do()
	return err
}

func (s *Store) remember(id string) {
	s.mu.Lock()
	s.resolved = id
	s.mu.Unlock()
}

func (s *Store) rootID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolved != "" {
		return s.resolved
	}
	return s.driveID
}

func toRemoteFile(f *drive.File) models.RemoteFile {
	return models.RemoteFile{
		FileID:        f.Id,
		Name:          f.Name,
		WebViewLink:   f.WebViewLink,
		AppProperties: f.AppProperties,
	}
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}

// escapeQuery escapes a value for a single-quoted Drive query string.
func escapeQuery(v string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(v)
}

func appPropertiesQuery(folderID string, props map[string]string) string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]string, 0, len(keys)+2)
	for _, k := range keys {
		clauses = append(clauses, fmt.Sprintf("appProperties has { key='%s' and value='%s' }",
			escapeQuery(k), escapeQuery(props[k])))
	}
	clauses = append(clauses, fmt.Sprintf("'%s' in parents", escapeQuery(folderID)), "trashed = false")
	return strings.Join(clauses, " and ")
}
