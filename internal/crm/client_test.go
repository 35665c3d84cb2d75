package crm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chmdznr/deal-drive-sync/pkg/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("api_token") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"success":false,"error":"unauthorized"}`))
			return
		}
		handler(w, r)
	}))
	t.Cleanup(server.Close)
	return NewClient(server.URL+"/", "secret", server.Client())
}

func writeBody(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

func TestGetDeal(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/deals/100", r.URL.Path)
		writeBody(w, `{"success":true,"data":{
			"id":100,
			"title":"Excel avanzado",
			"org_id":{"name":"Acme","value":7},
			"add_time":"2024-05-06 07:08:09",
			"budget_key":"P-2024-01",
			"service_key":42,
			"amount_key":{"value":1500,"currency":"EUR"},
			"empty_key":null,
			"list_key":[1,2]
		}}`)
	})

	deal, err := client.GetDeal(context.Background(), "100")
	require.NoError(t, err)
	assert.Equal(t, "100", deal.ID)
	assert.Equal(t, "Excel avanzado", deal.Title)
	assert.Equal(t, "Acme", deal.OrganizationName)
	require.NotNil(t, deal.AddedAt)
	assert.Equal(t, time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC), *deal.AddedAt)
	assert.Equal(t, map[string]string{
		"budget_key":  "P-2024-01",
		"service_key": "42",
		"amount_key":  "1500",
	}, deal.CustomFields)
}

func TestGetDealOrgName(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, `{"success":true,"data":{"id":"7","title":"T","org_name":"Beta SL","org_id":3}}`)
	})

	deal, err := client.GetDeal(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, "Beta SL", deal.OrganizationName)
	assert.Nil(t, deal.AddedAt)
}

func TestGetDealHTTPError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"success":false,"error":"Deal not found"}`))
	})

	_, err := client.GetDeal(context.Background(), "404")
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
	assert.Equal(t, "crm http 404: Deal not found", httpErr.Error())
}

func TestListDealFilesFollowsPagination(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/deals/100/files", r.URL.Path)
		calls.Add(1)
		switch r.URL.Query().Get("start") {
		case "0":
			writeBody(w, `{"success":true,"data":[
				{"id":9,"name":"invoice.PDF","file_type":"pdf","add_time":"2024-05-01 10:00:00"},
				{"id":10,"name":"old.pdf","file_type":"pdf","active_flag":false}
			],"additional_data":{"pagination":{"more_items_in_collection":true,"next_start":2}}}`)
		case "2":
			writeBody(w, `{"success":true,"data":[
				{"id":11,"file_name":"notes","file_type":""}
			],"additional_data":{"pagination":{"more_items_in_collection":false}}}`)
		default:
			t.Fatalf("unexpected start %q", r.URL.Query().Get("start"))
		}
	})

	files, err := client.ListDealFiles(context.Background(), "100")
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
	require.Len(t, files, 2)

	assert.Equal(t, "9", files[0].SourceFileID)
	assert.Equal(t, "invoice.PDF", files[0].DisplayName)
	assert.Equal(t, "application/pdf", files[0].MimeType)
	require.NotNil(t, files[0].AddedAt)

	assert.Equal(t, models.SourceFile{SourceFileID: "11", DisplayName: "notes"}, files[1])
}

func TestListDealFilesEmpty(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, `{"success":true,"data":null}`)
	})

	files, err := client.ListDealFiles(context.Background(), "100")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestDownloadFile(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/files/9/download", r.URL.Path)
		w.Header().Set("Content-Type", "application/pdf; charset=binary")
		w.Header().Set("Content-Disposition", `attachment; filename*=UTF-8''factura%20a%C3%B1o.pdf`)
		_, _ = w.Write([]byte("%PDF-1.4"))
	})

	dl, err := client.DownloadFile(context.Background(), "9")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4"), dl.Data)
	assert.Equal(t, "application/pdf", dl.MimeType)
	assert.Equal(t, "factura año.pdf", dl.FileNameFromHeader)
}

func TestDownloadFileFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	})

	_, err := client.DownloadFile(context.Background(), "9")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream down")
}

func TestFileNameFromDisposition(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		expected string
	}{
		{name: "empty", header: "", expected: ""},
		{name: "plain", header: `attachment; filename="report.docx"`, expected: "report.docx"},
		{name: "extended", header: `attachment; filename*=UTF-8''Mar%C3%ADa.pdf`, expected: "María.pdf"},
		{name: "no filename", header: "inline", expected: ""},
		{name: "malformed", header: `attachment; filename="`, expected: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, fileNameFromDisposition(tt.header))
		})
	}
}

func TestScalarString(t *testing.T) {
	tests := []struct {
		raw      string
		expected string
	}{
		{raw: `"  padded "`, expected: "padded"},
		{raw: `12.5`, expected: "12.5"},
		{raw: `true`, expected: "true"},
		{raw: `null`, expected: ""},
		{raw: `[1]`, expected: ""},
		{raw: `{"name":"Acme"}`, expected: "Acme"},
		{raw: ``, expected: ""},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.raw), func(t *testing.T) {
			assert.Equal(t, tt.expected, scalarString([]byte(tt.raw)))
		})
	}
}
