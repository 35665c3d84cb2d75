package models

import "time"

// Deal is the subset of a CRM deal the document sync needs.
type Deal struct {
	ID               string
	Title            string
	OrganizationName string
	AddedAt          *time.Time
	// CustomFields holds raw custom-field values keyed by field key, already coerced to
	// strings at the CRM boundary.
	CustomFields map[string]string
}

// SourceFile is a file attached to a deal in the CRM.
type SourceFile struct {
	SourceFileID string
	DisplayName  string
	MimeType     string
	AddedAt      *time.Time
}

// Download is the body of a source file plus what the CRM said about it.
type Download struct {
	Data               []byte
	MimeType           string
	FileNameFromHeader string
}

// RemoteFile is an object in the content store.
type RemoteFile struct {
	FileID        string
	Name          string
	WebViewLink   string
	AppProperties map[string]string
}

// FolderLabelAttributes are the optional deal attributes used in the deal folder label.
type FolderLabelAttributes struct {
	BudgetNumber string
	ServiceLabel string
}

// LedgerRecord is one row of the deal file ledger.
type LedgerRecord struct {
	ID           string     `json:"id"`
	DealID       string     `json:"dealId"`
	SourceFileID string     `json:"sourceFileId"`
	FileName     string     `json:"fileName"`
	FileType     string     `json:"fileType"`
	FileURL      string     `json:"fileUrl"`
	RemoteFileID string     `json:"remoteFileId"`
	Shared       bool       `json:"shared"`
	AddedAt      *time.Time `json:"addedAt,omitempty"`
	UploadedAt   *time.Time `json:"uploadedAt,omitempty"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// SyncResult summarizes one deal sync.
type SyncResult struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Warnings []string `json:"warnings"`
}
