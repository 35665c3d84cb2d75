package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chmdznr/deal-drive-sync/pkg/models"
)

const timeLayout = "2006-01-02 15:04:05"

// dealFields are the deal keys that are not custom fields.
var dealFields = map[string]bool{
	"id": true, "title": true, "org_name": true, "org_id": true, "add_time": true,
}

// GetDeal fetches one deal. Custom field values are coerced to strings here so nothing past
// this package handles untyped payloads.
func (c *Client) GetDeal(ctx context.Context, dealID string) (models.Deal, error) {
	env, err := c.getJSON(ctx, "/v1/deals/"+url.PathEscape(dealID), nil)
	if err != nil {
		return models.Deal{}, err
	}
	return parseDeal(env.Data)
}

func parseDeal(data json.RawMessage) (models.Deal, error) {
	var raw map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return models.Deal{}, fmt.Errorf("decode deal: %w", err)
	}
	if raw == nil {
		return models.Deal{}, fmt.Errorf("deal not found")
	}

	deal := models.Deal{
		ID:           scalarString(raw["id"]),
		Title:        scalarString(raw["title"]),
		AddedAt:      parseTime(scalarString(raw["add_time"])),
		CustomFields: make(map[string]string),
	}

	deal.OrganizationName = scalarString(raw["org_name"])
	if deal.OrganizationName == "" {
		var org struct {
			Name string `json:"name"`
		}
		if json.Unmarshal(raw["org_id"], &org) == nil {
			deal.OrganizationName = org.Name
		}
	}

	for key, value := range raw {
		if dealFields[key] {
			continue
		}
		if s := scalarString(value); s != "" {
			deal.CustomFields[key] = s
		}
	}
	return deal, nil
}

type fileEntry struct {
	ID         json.Number `json:"id"`
	Name       string      `json:"name"`
	FileName   string      `json:"file_name"`
	FileType   string      `json:"file_type"`
	AddTime    string      `json:"add_time"`
	ActiveFlag *bool       `json:"active_flag"`
}

// ListDealFiles lists the active files attached to a deal, following pagination.
func (c *Client) ListDealFiles(ctx context.Context, dealID string) ([]models.SourceFile, error) {
	var files []models.SourceFile
	err := c.getPaged(ctx, "/v1/deals/"+url.PathEscape(dealID)+"/files", func(data json.RawMessage) error {
		var page []fileEntry
		if len(data) == 0 || string(data) == "null" {
			return nil
		}
		if err := json.Unmarshal(data, &page); err != nil {
			return fmt.Errorf("decode deal files: %w", err)
		}
		for _, entry := range page {
			if entry.ActiveFlag != nil && !*entry.ActiveFlag {
				continue
			}
			files = append(files, entry.toSourceFile())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func (e fileEntry) toSourceFile() models.SourceFile {
	name := e.Name
	if name == "" {
		name = e.FileName
	}
	var mimeType string
	if e.FileType != "" {
		mimeType = mediaType(mime.TypeByExtension("." + strings.ToLower(e.FileType)))
	}
	return models.SourceFile{
		SourceFileID: e.ID.String(),
		DisplayName:  name,
		MimeType:     mimeType,
		AddedAt:      parseTime(e.AddTime),
	}
}

// DownloadFile fetches the body of a file together with its declared type and name.
func (c *Client) DownloadFile(ctx context.Context, sourceFileID string) (models.Download, error) {
	resp, err := c.get(ctx, "/v1/files/"+url.PathEscape(sourceFileID)+"/download", nil)
	if err != nil {
		return models.Download{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.Download{}, err
	}
	return models.Download{
		Data:               data,
		MimeType:           mediaType(resp.Header.Get("Content-Type")),
		FileNameFromHeader: fileNameFromDisposition(resp.Header.Get("Content-Disposition")),
	}, nil
}

// scalarString renders a JSON scalar as a string. Objects yield their "value" or "name" member
// (monetary and relation fields); arrays and null yield "".
func scalarString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return strings.TrimSpace(s)
		}
	case '{':
		var obj map[string]json.RawMessage
		if json.Unmarshal(raw, &obj) == nil {
			if v := scalarString(obj["value"]); v != "" {
				return v
			}
			return scalarString(obj["name"])
		}
	case 't', 'f':
		var b bool
		if json.Unmarshal(raw, &b) == nil {
			return strconv.FormatBool(b)
		}
	case 'n', '[':
		return ""
	default:
		return string(raw)
	}
	return ""
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{timeLayout, time.RFC3339, "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
