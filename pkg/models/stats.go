package models

import "time"

// Stats represents ledger statistics for a deal
type Stats struct {
	TotalFiles    int64
	LinkedFiles   int64
	UnlinkedFiles int64
	LastUpdated   *time.Time
}
