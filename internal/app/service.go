// Package app runs a deal sync end to end: CRM fetch, document sync and ledger queries. The
// CLI and the HTTP API both drive it.
package app

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/chmdznr/deal-drive-sync/internal/sync"
	"github.com/chmdznr/deal-drive-sync/pkg/models"
)

// DealSource reads deals and their file lists from the CRM.
type DealSource interface {
	GetDeal(ctx context.Context, dealID string) (models.Deal, error)
	ListDealFiles(ctx context.Context, dealID string) ([]models.SourceFile, error)
}

// Ledger is the read and delete side of the ledger.
type Ledger interface {
	ListForDeal(ctx context.Context, dealID string) ([]models.LedgerRecord, error)
	DeleteForDeal(ctx context.Context, dealID string) (int64, error)
	GetStats(ctx context.Context, dealID string) (*models.Stats, error)
}

// Service ties the CRM, the syncer and the ledger together.
type Service struct {
	deals  DealSource
	syncer *sync.Syncer
	ledger Ledger
	logger *logrus.Logger
	// newAttributes builds the folder label resolver for one run. Nil disables enrichment.
	newAttributes func() sync.AttributeResolver
}

func NewService(deals DealSource, syncer *sync.Syncer, ledger Ledger, newAttributes func() sync.AttributeResolver, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		deals:         deals,
		syncer:        syncer,
		ledger:        ledger,
		logger:        logger,
		newAttributes: newAttributes,
	}
}

// SyncDeal fetches a deal and its files from the CRM and mirrors the files. CRM failures are
// returned as plain errors; a *sync.SyncError means the content store root is unavailable.
func (s *Service) SyncDeal(ctx context.Context, dealID string) (models.SyncResult, error) {
	deal, err := s.deals.GetDeal(ctx, dealID)
	if err != nil {
		return models.SyncResult{}, fmt.Errorf("fetch deal %s: %w", dealID, err)
	}
	if deal.ID == "" {
		deal.ID = dealID
	}
	files, err := s.deals.ListDealFiles(ctx, dealID)
	if err != nil {
		return models.SyncResult{}, fmt.Errorf("list files of deal %s: %w", dealID, err)
	}

	run := s.syncer
	if s.newAttributes != nil {
		run = run.WithAttributes(s.newAttributes())
	}

	s.logger.WithFields(logrus.Fields{
		"module":  "app",
		"deal_id": deal.ID,
		"files":   len(files),
	}).Debug("syncing deal documents")
	return run.SyncDealDocuments(ctx, deal, files, deal.OrganizationName)
}

func (s *Service) Files(ctx context.Context, dealID string) ([]models.LedgerRecord, error) {
	records, err := s.ledger.ListForDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []models.LedgerRecord{}
	}
	return records, nil
}

func (s *Service) Stats(ctx context.Context, dealID string) (*models.Stats, error) {
	return s.ledger.GetStats(ctx, dealID)
}

// Forget removes the ledger rows of a deal. Remote files are left in place.
func (s *Service) Forget(ctx context.Context, dealID string) (int64, error) {
	return s.ledger.DeleteForDeal(ctx, dealID)
}
