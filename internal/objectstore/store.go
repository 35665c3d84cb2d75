// Package objectstore mirrors deal files into a MinIO or S3 bucket. Folders are "prefix/"
// marker objects, application properties travel as user metadata and the domain
// permission is recorded as object tags.
package objectstore

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/tags"

	"github.com/chmdznr/deal-drive-sync/pkg/models"
)

const (
	folderContentType = "application/x-directory"
	fileNameMeta      = "filename"
	sourceFileIDProp  = "sourceFileId"
)

// Config holds the bucket connection settings
type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Secure    bool
	// Prefix is the folder inside the bucket used as the root, e.g. "deals".
	Prefix string
}

// Store is a content store on one bucket.
type Store struct {
	client *minio.Client
	bucket string
	root   string
}

// New creates a store whose transport is tuned for many small uploads.
func New(cfg Config) (*Store, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio endpoint and bucket are required")
	}

	tr := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.Secure,
		Transport:    tr,
		BucketLookup: minio.BucketLookupAuto,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %v", err)
	}

	return NewWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *minio.Client, bucket, prefix string) *Store {
	return &Store{
		client: client,
		bucket: bucket,
		root:   folderKey("", prefix),
	}
}

// ResolveRoot checks the bucket is reachable and returns the root folder key ("" for the
// bucket root).
func (s *Store) ResolveRoot(ctx context.Context) (string, error) {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return "", fmt.Errorf("bucket %s: %w", s.bucket, err)
	}
	if !exists {
		return "", fmt.Errorf("bucket %s does not exist", s.bucket)
	}
	return s.root, nil
}

// EnsureFolder returns the key of the folder marker for name under parentID (or rootID when
// parentID is empty), writing the marker if it is missing. Writing a marker is idempotent,
// so concurrent callers always end up with the same folder.
func (s *Store) EnsureFolder(ctx context.Context, rootID, parentID, name string) (string, error) {
	base := parentID
	if base == "" {
		base = rootID
	}
	key := folderKey(base, name)

	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return key, nil
	}
	if !isNotFound(err) {
		return "", fmt.Errorf("stat folder %s: %w", key, err)
	}

	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(nil), 0, minio.PutObjectOptions{
		ContentType:  folderContentType,
		UserMetadata: map[string]string{fileNameMeta: url.QueryEscape(name)},
	})
	if err != nil {
		return "", fmt.Errorf("create folder %s: %w", key, err)
	}
	return key, nil
}

// FindByAppProperties lists the objects of folderID whose key carries the source file id and
// returns the first whose metadata matches every property.
func (s *Store) FindByAppProperties(ctx context.Context, folderID string, props map[string]string) (string, error) {
	prefix := folderID
	if id := lookupFold(props, sourceFileIDProp); id != "" {
		prefix += keyPrefix(id)
	}

	// The lister goroutine only exits once its channel is drained after cancel.
	ctx, cancel := context.WithCancel(ctx)
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix})
	defer func() {
		cancel()
		for range objects {
		}
	}()

	for obj := range objects {
		if obj.Err != nil {
			return "", obj.Err
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		info, err := s.client.StatObject(ctx, s.bucket, obj.Key, minio.StatObjectOptions{})
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return "", err
		}
		if matchesProps(info.UserMetadata, props) {
			return obj.Key, nil
		}
	}
	return "", nil
}

// GetMetadata returns nil, nil when the object no longer exists.
func (s *Store) GetMetadata(ctx context.Context, fileID string) (*models.RemoteFile, error) {
	info, err := s.client.StatObject(ctx, s.bucket, fileID, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	file := s.remoteFile(fileID, info.UserMetadata)
	return &file, nil
}

// Upload stores data as <folder>/<sourceFileId>_<name>.
func (s *Store) Upload(ctx context.Context, folderID, name, mimeType string, data []byte, props map[string]string) (models.RemoteFile, error) {
	key := objectKey(folderID, lookupFold(props, sourceFileIDProp), name)

	meta := make(map[string]string, len(props)+1)
	for k, v := range props {
		meta[k] = url.QueryEscape(v)
	}
	meta[fileNameMeta] = url.QueryEscape(name)

	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  mimeType,
		UserMetadata: meta,
	})
	if err != nil {
		return models.RemoteFile{}, err
	}
	return s.remoteFile(key, meta), nil
}

// GrantDomainPermission tags the object with the domain and role it is shared with.
func (s *Store) GrantDomainPermission(ctx context.Context, fileID, domain, role string) error {
	t, err := tags.NewTags(map[string]string{
		"share-domain": domain,
		"share-role":   role,
	}, true)
	if err != nil {
		return err
	}
	return s.client.PutObjectTagging(ctx, s.bucket, fileID, t, minio.PutObjectTaggingOptions{})
}

func (s *Store) remoteFile(key string, meta map[string]string) models.RemoteFile {
	props := make(map[string]string, len(meta))
	name := path.Base(key)
	for k, v := range meta {
		if decoded, err := url.QueryUnescape(v); err == nil {
			v = decoded
		}
		if strings.EqualFold(k, fileNameMeta) {
			name = v
			continue
		}
		props[strings.ToLower(k)] = v
	}
	return models.RemoteFile{
		FileID:        key,
		Name:          name,
		WebViewLink:   s.objectURL(key),
		AppProperties: props,
	}
}

func (s *Store) objectURL(key string) string {
	u := *s.client.EndpointURL()
	u.Path = "/" + s.bucket + "/" + key
	return u.String()
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

// matchesProps compares user metadata, whose keys S3 returns canonicalized, against props.
func matchesProps(meta, props map[string]string) bool {
	for k, want := range props {
		got := lookupFold(meta, k)
		if decoded, err := url.QueryUnescape(got); err == nil {
			got = decoded
		}
		if got != want {
			return false
		}
	}
	return true
}

func lookupFold(m map[string]string, key string) string {
	if v, ok := m[key]; ok {
		return v
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
