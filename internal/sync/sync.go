package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chmdznr/deal-drive-sync/pkg/models"
	"github.com/sirupsen/logrus"
)

// Syncer mirrors the files of one deal into the content store and keeps the ledger in step.
type Syncer struct {
	store          ContentStore
	ledger         LedgerStore
	attributes     AttributeResolver
	folders        *FolderResolver
	reconciler     *Reconciler
	logger         *logrus.Logger
	enabled        bool
	disabledReason string
	concurrency    int
	retry          RetryPolicy
}

// SyncerConfig holds configuration for the syncer
type SyncerConfig struct {
	Concurrency int
	Retry       RetryPolicy
	ShareDomain string
	ShareRole   string
	// Enabled false short-circuits every sync with DisabledReason as its only warning.
	Enabled        bool
	DisabledReason string
}

// DefaultSyncerConfig returns default syncer configuration
func DefaultSyncerConfig() SyncerConfig {
	return SyncerConfig{
		Concurrency: 3,
		Retry:       DefaultRetryPolicy(),
		ShareRole:   "reader",
		Enabled:     true,
	}
}

// Dependencies are the collaborators a Syncer talks to. Attributes and Locker are optional.
type Dependencies struct {
	Store      ContentStore
	Source     SourceSystem
	Ledger     LedgerStore
	Attributes AttributeResolver
	Locker     Locker
	Logger     *logrus.Logger
	Now        func() time.Time
}

// NewSyncer creates a new syncer instance
func NewSyncer(deps Dependencies, config *SyncerConfig) (*Syncer, error) {
	if config == nil {
		defaultConfig := DefaultSyncerConfig()
		config = &defaultConfig
	}
	if deps.Source == nil || deps.Ledger == nil {
		return nil, errors.New("source system and ledger are required")
	}
	if config.Enabled && deps.Store == nil {
		return nil, errors.New("content store is required when sync is enabled")
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	concurrency := config.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	shareRole := config.ShareRole
	if shareRole == "" {
		shareRole = "reader"
	}

	return &Syncer{
		store:          deps.Store,
		ledger:         deps.Ledger,
		attributes:     deps.Attributes,
		folders:        NewFolderResolver(deps.Store, deps.Locker, config.Retry, deps.Logger),
		logger:         deps.Logger,
		enabled:        config.Enabled,
		disabledReason: config.DisabledReason,
		concurrency:    concurrency,
		retry:          config.Retry,
		reconciler: &Reconciler{
			store:       deps.Store,
			source:      deps.Source,
			ledger:      deps.Ledger,
			retry:       config.Retry,
			shareDomain: config.ShareDomain,
			shareRole:   shareRole,
			now:         deps.Now,
			logger:      deps.Logger,
		},
	}, nil
}

// WithAttributes returns a copy of s that labels deal folders with attrs. Use it to bind
// run-scoped enrichment, such as a resolver with a fresh field cache, to one sync run.
func (s *Syncer) WithAttributes(attrs AttributeResolver) *Syncer {
	run := *s
	run.attributes = attrs
	return &run
}

// syncProgress collects per-file results from concurrent workers.
type syncProgress struct {
	imported int
	skipped  int
	warnings []string // indexed by source file position
	sync.Mutex
}

func newSyncProgress(totalFiles int) *syncProgress {
	return &syncProgress{warnings: make([]string, totalFiles)}
}

func (p *syncProgress) Update(outcome Outcome) {
	p.Lock()
	defer p.Unlock()
	if outcome.Imported() {
		p.imported++
	} else {
		p.skipped++
	}
}

func (p *syncProgress) Fail(index int, warning string) {
	p.Lock()
	defer p.Unlock()
	p.skipped++
	p.warnings[index] = warning
}

func (p *syncProgress) Result() models.SyncResult {
	p.Lock()
	defer p.Unlock()
	result := models.SyncResult{Imported: p.imported, Skipped: p.skipped, Warnings: []string{}}
	for _, w := range p.warnings {
		if w != "" {
			result.Warnings = append(result.Warnings, w)
		}
	}
	return result
}

// ledgerIndex is the per-run view of existing ledger rows keyed by source file id.
type ledgerIndex struct {
	mu   sync.RWMutex
	rows map[string]models.LedgerRecord
}

func newLedgerIndex(records []models.LedgerRecord) *ledgerIndex {
	idx := &ledgerIndex{rows: make(map[string]models.LedgerRecord, len(records))}
	for _, rec := range records {
		idx.rows[rec.SourceFileID] = rec
	}
	return idx
}

func (i *ledgerIndex) Get(sourceFileID string) *models.LedgerRecord {
	i.mu.RLock()
	defer i.mu.RUnlock()
	rec, ok := i.rows[sourceFileID]
	if !ok {
		return nil
	}
	return &rec
}

func (i *ledgerIndex) Put(rec models.LedgerRecord) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.rows[rec.SourceFileID] = rec
}

// SyncDealDocuments mirrors files into the deal's folder. It only returns an error, a
// *SyncError, when the content store root cannot be validated; every other failure becomes
// a warning in the result.
func (s *Syncer) SyncDealDocuments(ctx context.Context, deal models.Deal, files []models.SourceFile, organizationName string) (models.SyncResult, error) {
	result := models.SyncResult{Warnings: []string{}}
	if len(files) == 0 {
		return result, nil
	}
	if !s.enabled || s.store == nil {
		reason := s.disabledReason
		if reason == "" {
			reason = "remote store is disabled"
		}
		result.Skipped = len(files)
		result.Warnings = append(result.Warnings, "document sync skipped: "+reason)
		return result, nil
	}

	log := s.logger.WithFields(logrus.Fields{"module": "sync", "deal_id": deal.ID})

	rootID, err := WithRetry(ctx, s.retry, s.store.ResolveRoot)
	if err != nil {
		log.WithError(err).Error("content store root is unavailable")
		return result, &SyncError{Code: ErrCodeSharedDriveUnavailable, Err: err}
	}

	if organizationName == "" {
		organizationName = deal.OrganizationName
	}
	label := DealFolderLabel(deal, s.folderAttributes(ctx, deal))
	folderID, err := s.folders.ResolveDealFolder(ctx, rootID, OrganizationFolderName(organizationName), label)
	if err != nil {
		log.WithError(err).Warn("could not resolve deal folder")
		return skipAll(files, fmt.Sprintf("could not resolve folder for deal %s: %v", deal.ID, err)), nil
	}

	existing, err := s.ledger.FindExistingForDeal(ctx, deal.ID)
	if err != nil {
		log.WithError(err).Warn("could not load ledger rows")
		return skipAll(files, fmt.Sprintf("could not load ledger for deal %s: %v", deal.ID, err)), nil
	}
	index := newLedgerIndex(existing)

	target := Target{DealID: deal.ID, FolderID: folderID}
	progress := newSyncProgress(len(files))
	started := time.Now()

	RunBounded(files, s.concurrency, func(file models.SourceFile, i int) {
		outcome, rec, err := s.reconciler.Reconcile(ctx, target, file, index.Get(file.SourceFileID))
		if rec.SourceFileID != "" {
			index.Put(rec)
		}
		if err != nil {
			log.WithFields(logrus.Fields{"source_file_id": file.SourceFileID}).WithError(err).Warn("file sync failed")
			progress.Fail(i, fileWarning(file, err))
			return
		}
		log.WithFields(logrus.Fields{
			"source_file_id": file.SourceFileID,
			"outcome":        outcome,
			"remote_file_id": rec.RemoteFileID,
		}).Debug("file reconciled")
		progress.Update(outcome)
	})

	result = progress.Result()
	log.WithFields(logrus.Fields{
		"imported": result.Imported,
		"skipped":  result.Skipped,
		"warnings": len(result.Warnings),
		"elapsed":  time.Since(started).String(),
	}).Info("deal documents synced")
	return result, nil
}

func (s *Syncer) folderAttributes(ctx context.Context, deal models.Deal) models.FolderLabelAttributes {
	if s.attributes == nil {
		return models.FolderLabelAttributes{}
	}
	attrs, err := s.attributes.ResolveFolderLabelAttributes(ctx, deal)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"module":  "sync",
			"deal_id": deal.ID,
		}).WithError(err).Warn("deal attribute resolution failed; using fallback folder label")
		return models.FolderLabelAttributes{}
	}
	return attrs
}

func skipAll(files []models.SourceFile, warning string) models.SyncResult {
	return models.SyncResult{Skipped: len(files), Warnings: []string{warning}}
}

func fileWarning(file models.SourceFile, err error) string {
	name := file.DisplayName
	if name == "" {
		name = file.SourceFileID
	}
	return fmt.Sprintf("could not sync file '%s' (id %s): %s", name, file.SourceFileID, err.Error())
}
