package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chmdznr/deal-drive-sync/pkg/models"
	"github.com/chmdznr/deal-drive-sync/pkg/utils"
	"github.com/sirupsen/logrus"
)

const defaultMimeType = "application/octet-stream"

// Outcome is what reconciliation did for one source file.
type Outcome string

const (
	// OutcomeSkipped means the stored remote file still resolves; only metadata was refreshed.
	OutcomeSkipped Outcome = "SKIPPED"
	// OutcomeRelinked means a remote file carrying the file's application properties was adopted.
	OutcomeRelinked Outcome = "RELINKED"
	// OutcomeUploaded means the file was downloaded and uploaded for the first time.
	OutcomeUploaded Outcome = "UPLOADED"
	// OutcomeReuploaded means a ledger row existed but its remote file was gone.
	OutcomeReuploaded Outcome = "REUPLOADED"
)

// Imported reports whether the outcome counts as a new import.
func (o Outcome) Imported() bool {
	return o == OutcomeUploaded || o == OutcomeReuploaded
}

// Target is where one deal's files are reconciled into.
type Target struct {
	DealID   string
	FolderID string
}

// Reconciler converges one source file against the ledger and the content store.
type Reconciler struct {
	store       ContentStore
	source      SourceSystem
	ledger      LedgerStore
	retry       RetryPolicy
	shareDomain string
	shareRole   string
	now         func() time.Time
	logger      *logrus.Logger
}

// Reconcile evaluates, in order: the stored remote id still resolves (SKIPPED); a remote
// file in the deal folder carries the file's application properties (RELINKED); otherwise
// download, upload and share (UPLOADED or REUPLOADED). Each path ends in one ledger upsert.
func (r *Reconciler) Reconcile(ctx context.Context, target Target, file models.SourceFile, existing *models.LedgerRecord) (Outcome, models.LedgerRecord, error) {
	if existing != nil && existing.RemoteFileID != "" {
		meta, err := r.metadata(ctx, existing.RemoteFileID)
		if err != nil {
			return "", models.LedgerRecord{}, fmt.Errorf("metadata lookup: %w", err)
		}
		if meta != nil {
			fileType := existing.FileType
			if fileType == "" {
				fileType = file.MimeType
			}
			shared, shareErr := r.share(ctx, meta.FileID, existing.Shared)
			return r.finish(ctx, OutcomeSkipped, r.record(target, file, existing, *meta, fileType, shared), shareErr)
		}
		r.logger.WithFields(logrus.Fields{
			"module":          "sync",
			"deal_id":         target.DealID,
			"source_file_id":  file.SourceFileID,
			"stale_remote_id": existing.RemoteFileID,
		}).Warn("stored remote file no longer resolves")
	}

	props := AppProperties(target.DealID, file.SourceFileID)
	foundID, err := WithRetry(ctx, r.retry, func(ctx context.Context) (string, error) {
		return r.store.FindByAppProperties(ctx, target.FolderID, props)
	})
	if err != nil {
		return "", models.LedgerRecord{}, fmt.Errorf("application properties search: %w", err)
	}
	if foundID != "" {
		meta, err := r.metadata(ctx, foundID)
		if err != nil {
			return "", models.LedgerRecord{}, fmt.Errorf("metadata lookup: %w", err)
		}
		if meta != nil {
			fileType := file.MimeType
			if fileType == "" && existing != nil {
				fileType = existing.FileType
			}
			alreadyShared := existing != nil && existing.Shared && existing.RemoteFileID == meta.FileID
			shared, shareErr := r.share(ctx, meta.FileID, alreadyShared)
			return r.finish(ctx, OutcomeRelinked, r.record(target, file, existing, *meta, fileType, shared), shareErr)
		}
	}

	return r.upload(ctx, target, file, existing, props)
}

func (r *Reconciler) upload(ctx context.Context, target Target, file models.SourceFile, existing *models.LedgerRecord, props map[string]string) (Outcome, models.LedgerRecord, error) {
	download, err := WithRetry(ctx, r.retry, func(ctx context.Context) (models.Download, error) {
		return r.source.DownloadFile(ctx, file.SourceFileID)
	})
	if err != nil {
		return "", models.LedgerRecord{}, fmt.Errorf("download: %w", err)
	}

	mimeType := download.MimeType
	if mimeType == "" {
		mimeType = file.MimeType
	}
	if mimeType == "" {
		mimeType = defaultMimeType
	}
	name := UploadName(file, download.FileNameFromHeader, mimeType)

	attempt := 0
	remote, err := WithRetry(ctx, r.retry, func(ctx context.Context) (models.RemoteFile, error) {
		attempt++
		if attempt > 1 {
			// A failed attempt may still have stored the file.
			prior, err := r.findUploaded(ctx, target.FolderID, props)
			if err != nil {
				return models.RemoteFile{}, err
			}
			if prior != nil {
				return *prior, nil
			}
		}
		return r.store.Upload(ctx, target.FolderID, name, mimeType, download.Data, props)
	})
	if err != nil {
		return "", models.LedgerRecord{}, fmt.Errorf("upload: %w", err)
	}
	if remote.Name == "" {
		remote.Name = name
	}

	outcome := OutcomeUploaded
	if existing != nil {
		outcome = OutcomeReuploaded
	}
	shared, shareErr := r.share(ctx, remote.FileID, false)
	// The object exists now, so the ledger records it even when sharing failed.
	return r.finish(ctx, outcome, r.record(target, file, existing, remote, mimeType, shared), shareErr)
}

// findUploaded returns the file in folderID carrying props, or nil when there is none.
func (r *Reconciler) findUploaded(ctx context.Context, folderID string, props map[string]string) (*models.RemoteFile, error) {
	id, err := r.store.FindByAppProperties(ctx, folderID, props)
	if err != nil || id == "" {
		return nil, err
	}
	return r.store.GetMetadata(ctx, id)
}

// share grants the configured domain permission on fileID unless it was granted before.
// It reports whether the file ends up shared.
func (r *Reconciler) share(ctx context.Context, fileID string, alreadyShared bool) (bool, error) {
	if r.shareDomain == "" {
		return false, nil
	}
	if alreadyShared {
		return true, nil
	}
	err := Retry(ctx, r.retry, func(ctx context.Context) error {
		return r.store.GrantDomainPermission(ctx, fileID, r.shareDomain, r.shareRole)
	})
	return err == nil, err
}

// finish writes rec and reports outcome, surfacing a failed permission grant after the
// row is saved.
func (r *Reconciler) finish(ctx context.Context, outcome Outcome, rec models.LedgerRecord, shareErr error) (Outcome, models.LedgerRecord, error) {
	saved, err := r.ledger.Upsert(ctx, rec)
	if err != nil {
		return "", models.LedgerRecord{}, errors.Join(fmt.Errorf("ledger upsert: %w", err), shareErr)
	}
	if shareErr != nil {
		return outcome, saved, fmt.Errorf("permission grant: %w", shareErr)
	}
	return outcome, saved, nil
}

func (r *Reconciler) metadata(ctx context.Context, fileID string) (*models.RemoteFile, error) {
	return WithRetry(ctx, r.retry, func(ctx context.Context) (*models.RemoteFile, error) {
		return r.store.GetMetadata(ctx, fileID)
	})
}

// record builds the ledger row for file. The id and first upload time of an existing row
// are kept.
func (r *Reconciler) record(target Target, file models.SourceFile, existing *models.LedgerRecord, remote models.RemoteFile, fileType string, shared bool) models.LedgerRecord {
	now := r.now().UTC()
	rec := models.LedgerRecord{
		ID:           file.SourceFileID,
		DealID:       target.DealID,
		SourceFileID: file.SourceFileID,
		FileName:     remote.Name,
		FileType:     fileType,
		FileURL:      remote.WebViewLink,
		RemoteFileID: remote.FileID,
		Shared:       shared,
		AddedAt:      file.AddedAt,
		UploadedAt:   &now,
		UpdatedAt:    now,
	}
	if existing != nil {
		if existing.ID != "" {
			rec.ID = existing.ID
		}
		if existing.UploadedAt != nil {
			rec.UploadedAt = existing.UploadedAt
		}
		if rec.AddedAt == nil {
			rec.AddedAt = existing.AddedAt
		}
		if rec.FileName == "" {
			rec.FileName = existing.FileName
		}
	}
	return rec
}

// UploadName is the name a source file is stored under: the download's header name or the
// CRM display name, normalized, with an extension matching mimeType.
func UploadName(file models.SourceFile, headerName, mimeType string) string {
	base := headerName
	if base == "" {
		base = file.DisplayName
	}
	name := utils.NormalizeName(base, "archivo-"+file.SourceFileID)
	return utils.EnsureExtension(name, mimeType)
}
