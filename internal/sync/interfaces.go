package sync

import (
	"context"

	"github.com/chmdznr/deal-drive-sync/pkg/models"
)

// Application property keys attached to every uploaded file.
const (
	PropDealID       = "dealId"
	PropSourceFileID = "sourceFileId"
)

// ContentStore is the remote store deal files are mirrored into.
//
// GetMetadata returns (nil, nil) when fileID does not resolve. FindByAppProperties returns
// "" when nothing in folderID carries all of props.
type ContentStore interface {
	ResolveRoot(ctx context.Context) (string, error)
	EnsureFolder(ctx context.Context, rootID, parentID, name string) (string, error)
	FindByAppProperties(ctx context.Context, folderID string, props map[string]string) (string, error)
	GetMetadata(ctx context.Context, fileID string) (*models.RemoteFile, error)
	Upload(ctx context.Context, folderID, name, mimeType string, data []byte, props map[string]string) (models.RemoteFile, error)
	GrantDomainPermission(ctx context.Context, fileID, domain, role string) error
}

// SourceSystem downloads files attached to deals.
type SourceSystem interface {
	DownloadFile(ctx context.Context, sourceFileID string) (models.Download, error)
}

// LedgerStore persists one record per (deal, source file).
type LedgerStore interface {
	FindExistingForDeal(ctx context.Context, dealID string) ([]models.LedgerRecord, error)
	Upsert(ctx context.Context, record models.LedgerRecord) (models.LedgerRecord, error)
}

// AttributeResolver looks up the deal attributes used to label its folder.
type AttributeResolver interface {
	ResolveFolderLabelAttributes(ctx context.Context, deal models.Deal) (models.FolderLabelAttributes, error)
}

// Locker serializes folder creation across processes. The returned func releases the lock.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// AppProperties builds the lookup properties for one source file of a deal.
func AppProperties(dealID, sourceFileID string) map[string]string {
	return map[string]string{
		PropDealID:       dealID,
		PropSourceFileID: sourceFileID,
	}
}
