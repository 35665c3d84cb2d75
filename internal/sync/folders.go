package sync

import (
	"context"
	"fmt"
	"strings"

	"github.com/chmdznr/deal-drive-sync/pkg/models"
	"github.com/chmdznr/deal-drive-sync/pkg/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	labelSeparator     = " - "
	noDateLabel        = "sin fecha"
	noOrganizationName = "Sin organización"
	defaultServiceName = "Formación"
)

// FolderResolver creates or finds the organization and deal folders. Concurrent calls in
// one process for the same folder share a single store call; across processes the optional
// Locker serializes them. Without a Locker two processes may both create the folder, and
// either copy is then accepted.
type FolderResolver struct {
	store  ContentStore
	locker Locker
	retry  RetryPolicy
	logger *logrus.Logger
	group  singleflight.Group
}

func NewFolderResolver(store ContentStore, locker Locker, retry RetryPolicy, logger *logrus.Logger) *FolderResolver {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &FolderResolver{
		store:  store,
		locker: locker,
		retry:  retry,
		logger: logger,
	}
}

// ResolveDealFolder returns the id of rootID/orgName/dealLabel, creating what is missing.
func (r *FolderResolver) ResolveDealFolder(ctx context.Context, rootID, orgName, dealLabel string) (string, error) {
	orgID, err := r.EnsureFolder(ctx, rootID, "", orgName)
	if err != nil {
		return "", fmt.Errorf("organization folder %q: %w", orgName, err)
	}
	dealID, err := r.EnsureFolder(ctx, rootID, orgID, dealLabel)
	if err != nil {
		return "", fmt.Errorf("deal folder %q: %w", dealLabel, err)
	}
	return dealID, nil
}

// EnsureFolder returns the folder named name under parentID (the root when empty).
func (r *FolderResolver) EnsureFolder(ctx context.Context, rootID, parentID, name string) (string, error) {
	key := folderKey(rootID, parentID, name)
	v, err, _ := r.group.Do(key, func() (any, error) {
		unlock := r.lock(ctx, key)
		defer unlock()
		return WithRetry(ctx, r.retry, func(ctx context.Context) (string, error) {
			return r.store.EnsureFolder(ctx, rootID, parentID, name)
		})
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *FolderResolver) lock(ctx context.Context, key string) func() {
	if r.locker == nil {
		return func() {}
	}
	unlock, err := r.locker.Lock(ctx, key)
	if err != nil {
		r.logger.WithFields(logrus.Fields{
			"module": "sync",
			"key":    key,
		}).Warn("could not obtain folder lock; proceeding without lock: " + err.Error())
		return func() {}
	}
	return unlock
}

func folderKey(rootID, parentID, name string) string {
	if parentID == "" {
		parentID = rootID
	}
	return "folder:" + rootID + ":" + parentID + ":" + name
}

// OrganizationFolderName is the normalized organization folder name.
func OrganizationFolderName(orgName string) string {
	return utils.NormalizeName(orgName, noOrganizationName)
}

// DealFolderLabel builds "DD-MM-YYYY - <budget> - <service>" for deal. Missing attributes
// fall back to the deal id and title.
func DealFolderLabel(deal models.Deal, attrs models.FolderLabelAttributes) string {
	date := noDateLabel
	if deal.AddedAt != nil {
		date = utils.DateLabel(*deal.AddedAt)
	}
	budget := utils.NormalizeName(attrs.BudgetNumber, "Presupuesto "+deal.ID)

	service := attrs.ServiceLabel
	if strings.TrimSpace(service) == "" {
		service = deal.Title
	}
	service = utils.NormalizeName(service, defaultServiceName)

	label := strings.Join([]string{date, budget, service}, labelSeparator)
	return utils.NormalizeName(label, "Presupuesto "+deal.ID)
}
