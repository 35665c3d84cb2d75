package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/chmdznr/deal-drive-sync/internal/app"
	"github.com/chmdznr/deal-drive-sync/internal/config"
	"github.com/chmdznr/deal-drive-sync/internal/crm"
	"github.com/chmdznr/deal-drive-sync/internal/db"
	"github.com/chmdznr/deal-drive-sync/internal/drive"
	"github.com/chmdznr/deal-drive-sync/internal/lock"
	"github.com/chmdznr/deal-drive-sync/internal/objectstore"
	"github.com/chmdznr/deal-drive-sync/internal/sync"
)

// session is everything a command needs, opened from the environment.
type session struct {
	cfg     *config.Config
	logger  *logrus.Logger
	ledger  db.Ledger
	service *app.Service
	closers []func() error
}

func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.WithError(err).Warn("close failed")
		}
	}
}

// openSession loads the configuration and opens the ledger. The CRM client, content store and
// syncer are only built when withSync is set.
func openSession(ctx context.Context, withSync bool, concurrency int) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if concurrency > 0 {
		cfg.Concurrency = concurrency
	}
	if withSync {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}

	logger := config.NewLogger(cfg.LogLevel)
	sess := &session{cfg: cfg, logger: logger}

	ledger, err := db.Open(cfg.LedgerDriver, cfg.LedgerDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %v", err)
	}
	sess.ledger = ledger
	sess.closers = append(sess.closers, ledger.Close)

	if !withSync {
		sess.service = app.NewService(nil, nil, ledger, nil, logger)
		return sess, nil
	}

	crmClient := crm.NewClient(cfg.CRMBaseURL, cfg.CRMAPIToken, nil)

	syncerConfig := sync.DefaultSyncerConfig()
	syncerConfig.Concurrency = cfg.Concurrency
	syncerConfig.Retry = cfg.Retry
	syncerConfig.ShareDomain = cfg.ShareDomain
	syncerConfig.ShareRole = cfg.ShareRole
	syncerConfig.Enabled, syncerConfig.DisabledReason = cfg.StoreEnabled()

	deps := sync.Dependencies{
		Source: crmClient,
		Ledger: ledger,
		Logger: logger,
	}

	if syncerConfig.Enabled {
		store, err := openStore(ctx, cfg)
		if err != nil {
			// A store that cannot even be constructed degrades sync like a disabled one.
			config.LogError(logger, "main", "openSession", "content store unavailable", cfg.StoreBackend, err)
			syncerConfig.Enabled = false
			syncerConfig.DisabledReason = err.Error()
		} else {
			deps.Store = store
		}
	} else {
		logger.WithField("reason", syncerConfig.DisabledReason).Warn("document sync is disabled")
	}

	if cfg.RedisAddress != "" {
		locker, err := lock.Connect(ctx, cfg.RedisAddress)
		if err != nil {
			logger.WithError(err).Warn("redis unavailable; folder creation runs without a lock")
		} else {
			deps.Locker = locker
			sess.closers = append(sess.closers, locker.Close)
		}
	}

	syncer, err := sync.NewSyncer(deps, &syncerConfig)
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("failed to create syncer: %v", err)
	}

	newAttributes := func() sync.AttributeResolver {
		return crm.NewLabelResolver(crmClient, crm.NewFieldCache(cfg.FieldCacheTTL), cfg.CRMBudgetField, cfg.CRMServiceField)
	}
	sess.service = app.NewService(crmClient, syncer, ledger, newAttributes, logger)
	return sess, nil
}

func openStore(ctx context.Context, cfg *config.Config) (sync.ContentStore, error) {
	switch cfg.StoreBackend {
	case config.BackendMinio:
		return objectstore.New(objectstore.Config{
			Endpoint:  cfg.MinioEndpoint,
			Bucket:    cfg.MinioBucket,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Secure:    cfg.MinioSecure,
			Prefix:    cfg.MinioPrefix,
		})
	default:
		driveCfg := drive.Config{
			DriveID:         cfg.DriveID,
			DriveName:       cfg.DriveName,
			CredentialsFile: cfg.DriveCredentialsFile,
		}
		if cfg.DriveCredentialsJSON != "" {
			driveCfg.CredentialsJSON = []byte(cfg.DriveCredentialsJSON)
		} else if cfg.DriveCredentialsFile != "" {
			if _, err := os.Stat(cfg.DriveCredentialsFile); err != nil {
				return nil, fmt.Errorf("drive credentials file: %w", err)
			}
		}
		return drive.New(ctx, driveCfg)
	}
}
