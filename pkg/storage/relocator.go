package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

const (
	DefaultPrefix          = "generations"
	defaultDownloadTimeout = 30 * time.Second
	fallbackMimeType       = "application/octet-stream"
)

var (
	ErrEmptyAsset    = errors.New("downloaded asset is empty")
	ErrAssetTooLarge = errors.New("downloaded asset exceeds size limit")
	ErrInvalidKey    = errors.New("invalid storage key component")
)

// knownExtensions maps URL extensions to the content types stored with them.
var knownExtensions = map[string]string{
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"webp": "image/webp",
	"gif":  "image/gif",
	"mp4":  "video/mp4",
	"webm": "video/webm",
	"mov":  "video/quicktime",
	"mp3":  "audio/mpeg",
	"wav":  "audio/wav",
}

// DownloadError is a failed fetch of a provider asset.
type DownloadError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *DownloadError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("download %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// Retryable is true for network failures and 5xx responses.
func (e *DownloadError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// IsRetryable reports whether err is a transient download failure.
func IsRetryable(err error) bool {
	var dlErr *DownloadError
	if errors.As(err, &dlErr) {
		return dlErr.Retryable()
	}
	return false
}

// Asset is a downloaded artifact held in memory.
type Asset struct {
	Data        []byte
	ContentType string
}

// Relocator downloads artifacts and uploads them to the object store.
type Relocator struct {
	http     *http.Client
	store    ObjectStore
	prefix   string
	maxBytes int64
}

// Option configures a Relocator.
type Option func(*Relocator)

func WithHTTPClient(client *http.Client) Option {
	return func(r *Relocator) {
		if client != nil {
			r.http = client
		}
	}
}

func WithPrefix(prefix string) Option {
	return func(r *Relocator) {
		if trimmed := strings.Trim(strings.TrimSpace(prefix), "/"); trimmed != "" {
			r.prefix = trimmed
		}
	}
}

// WithMaxBytes caps downloads; zero or negative disables the cap.
func WithMaxBytes(n int64) Option {
	return func(r *Relocator) {
		r.maxBytes = n
	}
}

func NewRelocator(store ObjectStore, opts ...Option) (*Relocator, error) {
	if store == nil {
		return nil, errors.New("object store is required")
	}
	r := &Relocator{
		http:   &http.Client{Timeout: defaultDownloadTimeout},
		store:  store,
		prefix: DefaultPrefix,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Store exposes the underlying object store (sweeps delete through it).
func (r *Relocator) Store() ObjectStore {
	return r.store
}

// Download fetches rawURL into memory. It performs no retries.
func (r *Relocator) Download(ctx context.Context, rawURL string) (*Asset, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &DownloadError{URL: rawURL, StatusCode: http.StatusBadRequest, Err: err}
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, &DownloadError{URL: rawURL, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return nil, &DownloadError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	reader := io.Reader(resp.Body)
	if r.maxBytes > 0 {
		reader = io.LimitReader(resp.Body, r.maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, &DownloadError{URL: rawURL, Err: err}
	}
	if r.maxBytes > 0 && int64(len(data)) > r.maxBytes {
		return nil, &DownloadError{URL: rawURL, StatusCode: http.StatusRequestEntityTooLarge, Err: ErrAssetTooLarge}
	}
	if len(data) == 0 {
		return nil, &DownloadError{URL: rawURL, StatusCode: http.StatusNoContent, Err: ErrEmptyAsset}
	}

	return &Asset{Data: data, ContentType: resp.Header.Get("Content-Type")}, nil
}

// MimeType resolves the content type and extension for an artifact: the URL
// extension wins, then the response header, then content sniffing, then the
// caller's default extension.
func MimeType(rawURL, headerContentType string, data []byte, defaultExt string) (string, string) {
	if ext := urlExtension(rawURL); ext != "" {
		if known, ok := knownExtensions[ext]; ok {
			return known, ext
		}
	}

	if mediaType, _, err := mime.ParseMediaType(headerContentType); err == nil && mediaType != fallbackMimeType {
		if detected := mimetype.Lookup(mediaType); detected != nil && detected.Extension() != "" {
			return mediaType, strings.TrimPrefix(detected.Extension(), ".")
		}
	}

	if len(data) > 0 {
		detected := mimetype.Detect(data)
		if detected.String() != fallbackMimeType && detected.Extension() != "" {
			mediaType, _, _ := mime.ParseMediaType(detected.String())
			return mediaType, strings.TrimPrefix(detected.Extension(), ".")
		}
	}

	defaultExt = strings.TrimPrefix(strings.ToLower(defaultExt), ".")
	if known, ok := knownExtensions[defaultExt]; ok {
		return known, defaultExt
	}
	if defaultExt == "" {
		defaultExt = "bin"
	}
	return fallbackMimeType, defaultExt
}

// Key builds the deterministic object key {prefix}/{ownerID}/{logicalName}.{ext}.
func (r *Relocator) Key(ownerID, logicalName, ext string) (string, error) {
	for _, part := range []string{ownerID, logicalName, ext} {
		if !validKeyPart(part) {
			return "", fmt.Errorf("%w: %q", ErrInvalidKey, part)
		}
	}
	return path.Join(r.prefix, ownerID, logicalName+"."+ext), nil
}

// Upload writes data under the owner-scoped key, replacing any existing object.
func (r *Relocator) Upload(ctx context.Context, data []byte, ownerID, logicalName, ext, mimeType string) (*Object, error) {
	key, err := r.Key(ownerID, logicalName, ext)
	if err != nil {
		return nil, err
	}
	if err := r.store.Put(ctx, key, data, mimeType); err != nil {
		return nil, fmt.Errorf("upload %s: %w", key, err)
	}
	return &Object{
		Key:      key,
		URL:      r.store.PublicURL(key),
		Size:     int64(len(data)),
		MimeType: mimeType,
	}, nil
}

// Relocate downloads rawURL and uploads it for ownerID under logicalName.
func (r *Relocator) Relocate(ctx context.Context, rawURL, ownerID, logicalName, defaultExt string) (*Object, error) {
	asset, err := r.Download(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	mimeType, ext := MimeType(rawURL, asset.ContentType, asset.Data, defaultExt)
	return r.Upload(ctx, asset.Data, ownerID, logicalName, ext, mimeType)
}

func urlExtension(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(path.Ext(parsed.Path)), ".")
}

func validKeyPart(part string) bool {
	if part == "" || part == "." || part == ".." {
		return false
	}
	return !strings.ContainsAny(part, `/\`)
}
