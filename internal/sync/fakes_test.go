package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chmdznr/deal-drive-sync/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

var fastRetry = RetryPolicy{Attempts: 3, Delays: []time.Duration{time.Millisecond}}

var fixedNow = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

type fakeStore struct {
	mu            sync.Mutex
	rootID        string
	rootErr       error
	folders       map[string]string
	folderCreates int
	files         map[string]*storedFile
	nextID        int
	uploads       int
	grants        []string
	uploadErr     error
	grantErr      error
	metaErr       error
}

type storedFile struct {
	folderID string
	file     models.RemoteFile
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rootID:  "root-1",
		folders: map[string]string{},
		files:   map[string]*storedFile{},
	}
}

func (s *fakeStore) ResolveRoot(ctx context.Context) (string, error) {
	if s.rootErr != nil {
		return "", s.rootErr
	}
	return s.rootID, nil
}

func (s *fakeStore) EnsureFolder(ctx context.Context, rootID, parentID, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if parentID == "" {
		parentID = rootID
	}
	key := parentID + "|" + name
	if id, ok := s.folders[key]; ok {
		return id, nil
	}
	s.nextID++
	s.folderCreates++
	id := fmt.Sprintf("folder-%d", s.nextID)
	s.folders[key] = id
	return id, nil
}

func (s *fakeStore) FindByAppProperties(ctx context.Context, folderID string, props map[string]string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, f := range s.files {
		if f.folderID != folderID {
			continue
		}
		match := true
		for k, v := range props {
			if f.file.AppProperties[k] != v {
				match = false
				break
			}
		}
		if match {
			return id, nil
		}
	}
	return "", nil
}

func (s *fakeStore) GetMetadata(ctx context.Context, fileID string) (*models.RemoteFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.metaErr != nil {
		return nil, s.metaErr
	}
	f, ok := s.files[fileID]
	if !ok {
		return nil, nil
	}
	out := f.file
	return &out, nil
}

func (s *fakeStore) Upload(ctx context.Context, folderID, name, mimeType string, data []byte, props map[string]string) (models.RemoteFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploadErr != nil {
		return models.RemoteFile{}, s.uploadErr
	}
	s.nextID++
	s.uploads++
	id := fmt.Sprintf("file-%d", s.nextID)
	copied := make(map[string]string, len(props))
	for k, v := range props {
		copied[k] = v
	}
	f := models.RemoteFile{
		FileID:        id,
		Name:          name,
		WebViewLink:   "https://drive.test/" + id,
		AppProperties: copied,
	}
	s.files[id] = &storedFile{folderID: folderID, file: f}
	return f, nil
}

func (s *fakeStore) GrantDomainPermission(ctx context.Context, fileID, domain, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grantErr != nil {
		return s.grantErr
	}
	s.grants = append(s.grants, fileID+":"+domain+":"+role)
	return nil
}

func (s *fakeStore) remove(fileID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, fileID)
}

func (s *fakeStore) countWithProps(props map[string]string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, f := range s.files {
		match := true
		for k, v := range props {
			if f.file.AppProperties[k] != v {
				match = false
				break
			}
		}
		if match {
			n++
		}
	}
	return n
}

// lossyStore stores uploads but reports the first lost of them as failed, like a
// response dropped after the server committed the file.
type lossyStore struct {
	*fakeStore
	mu   sync.Mutex
	lost int
}

func (s *lossyStore) Upload(ctx context.Context, folderID, name, mimeType string, data []byte, props map[string]string) (models.RemoteFile, error) {
	f, err := s.fakeStore.Upload(ctx, folderID, name, mimeType, data, props)
	if err != nil {
		return f, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lost > 0 {
		s.lost--
		return models.RemoteFile{}, errors.New("connection reset")
	}
	return f, nil
}

type fakeSource struct {
	mu        sync.Mutex
	downloads map[string]models.Download
	failures  map[string]error
	calls     map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		downloads: map[string]models.Download{},
		failures:  map[string]error{},
		calls:     map[string]int{},
	}
}

func (s *fakeSource) DownloadFile(ctx context.Context, sourceFileID string) (models.Download, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[sourceFileID]++
	if err, ok := s.failures[sourceFileID]; ok {
		return models.Download{}, err
	}
	if d, ok := s.downloads[sourceFileID]; ok {
		return d, nil
	}
	return models.Download{Data: []byte("content of " + sourceFileID)}, nil
}

type fakeLedger struct {
	mu      sync.Mutex
	rows    map[string]models.LedgerRecord
	upserts int
	findErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{rows: map[string]models.LedgerRecord{}}
}

func (l *fakeLedger) FindExistingForDeal(ctx context.Context, dealID string) ([]models.LedgerRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.findErr != nil {
		return nil, l.findErr
	}
	var out []models.LedgerRecord
	for _, rec := range l.rows {
		if rec.DealID == dealID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (l *fakeLedger) Upsert(ctx context.Context, rec models.LedgerRecord) (models.LedgerRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.upserts++
	l.rows[rec.DealID+"|"+rec.SourceFileID] = rec
	return rec, nil
}

func (l *fakeLedger) get(dealID, sourceFileID string) (models.LedgerRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.rows[dealID+"|"+sourceFileID]
	return rec, ok
}

func (l *fakeLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rows)
}

type fakeAttributes struct {
	attrs models.FolderLabelAttributes
	err   error
}

func (a fakeAttributes) ResolveFolderLabelAttributes(ctx context.Context, deal models.Deal) (models.FolderLabelAttributes, error) {
	return a.attrs, a.err
}

type fakeLocker struct {
	mu       sync.Mutex
	err      error
	locked   []string
	released int
}

func (l *fakeLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.locked = append(l.locked, key)
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.released++
	}, nil
}

var errBoom = errors.New("boom")

func quietLogger() (*logrus.Logger, *test.Hook) {
	return test.NewNullLogger()
}
