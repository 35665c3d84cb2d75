package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/chmdznr/deal-drive-sync/pkg/models"
)

// FieldOption is one choice of an enum or set field.
type FieldOption struct {
	ID    json.Number `json:"id"`
	Label string      `json:"label"`
}

// Field is a deal field definition.
type Field struct {
	Key       string        `json:"key"`
	Name      string        `json:"name"`
	FieldType string        `json:"field_type"`
	Options   []FieldOption `json:"options"`
}

// optionLabel maps an option id to its label; values that are not option ids pass through.
func (f Field) optionLabel(value string) string {
	for _, opt := range f.Options {
		if opt.ID.String() == value {
			return opt.Label
		}
	}
	return value
}

const dealFieldsKey = "dealFields"

// FieldCache holds deal field definitions for one sync run. Create one per run; entries
// expire after the TTL even within a long run.
type FieldCache struct {
	lru *expirable.LRU[string, []Field]
}

func NewFieldCache(ttl time.Duration) *FieldCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &FieldCache{lru: expirable.NewLRU[string, []Field](8, nil, ttl)}
}

// DealFields returns the deal field definitions, from cache when still fresh.
func (c *Client) DealFields(ctx context.Context, cache *FieldCache) ([]Field, error) {
	if cache != nil {
		if fields, ok := cache.lru.Get(dealFieldsKey); ok {
			return fields, nil
		}
	}

	var fields []Field
	err := c.getPaged(ctx, "/v1/dealFields", func(data json.RawMessage) error {
		var page []Field
		if len(data) == 0 || string(data) == "null" {
			return nil
		}
		if err := json.Unmarshal(data, &page); err != nil {
			return fmt.Errorf("decode deal fields: %w", err)
		}
		fields = append(fields, page...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if cache != nil {
		cache.lru.Add(dealFieldsKey, fields)
	}
	return fields, nil
}

// LabelResolver resolves the custom fields used in deal folder labels.
type LabelResolver struct {
	client       *Client
	cache        *FieldCache
	budgetField  string
	serviceField string
}

// NewLabelResolver binds the field keys of the budget number and service custom fields to a
// cache scoped to the current run.
func NewLabelResolver(client *Client, cache *FieldCache, budgetField, serviceField string) *LabelResolver {
	return &LabelResolver{
		client:       client,
		cache:        cache,
		budgetField:  budgetField,
		serviceField: serviceField,
	}
}

func (r *LabelResolver) ResolveFolderLabelAttributes(ctx context.Context, deal models.Deal) (models.FolderLabelAttributes, error) {
	var attrs models.FolderLabelAttributes
	budget := deal.CustomFields[r.budgetField]
	service := deal.CustomFields[r.serviceField]
	if budget == "" && service == "" {
		return attrs, nil
	}

	fields, err := r.client.DealFields(ctx, r.cache)
	if err != nil {
		return attrs, err
	}
	byKey := make(map[string]Field, len(fields))
	for _, f := range fields {
		byKey[f.Key] = f
	}

	attrs.BudgetNumber = resolveValue(byKey[r.budgetField], budget)
	attrs.ServiceLabel = resolveValue(byKey[r.serviceField], service)
	return attrs, nil
}

// resolveValue turns enum and set option ids into their labels.
func resolveValue(field Field, value string) string {
	if value == "" {
		return ""
	}
	switch field.FieldType {
	case "enum":
		return field.optionLabel(value)
	case "set":
		parts := strings.Split(value, ",")
		labels := make([]string, 0, len(parts))
		for _, part := range parts {
			if part = strings.TrimSpace(part); part != "" {
				labels = append(labels, field.optionLabel(part))
			}
		}
		return strings.Join(labels, ", ")
	default:
		return value
	}
}
