package audio

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// Common errors for fetching audio payloads
var (
	ErrFetchFailed = errors.New("audio fetch failed")
	ErrEmptyURL    = errors.New("audio url is empty")
	ErrBlobRevoked = errors.New("blob reference is unknown or revoked")
	ErrTooLarge    = errors.New("audio payload exceeds size limit")
)

// DefaultMaxPayload bounds a single fetched payload
const DefaultMaxPayload = 64 << 20

// BlobResolver resolves in-process blob: references to their bytes
type BlobResolver interface {
	ResolveBlob(url string) ([]byte, bool)
}

// Fetcher loads encoded audio from http(s), data:, blob:, file:// URLs
// and plain filesystem paths.
type Fetcher struct {
	client   *http.Client
	fs       afero.Fs
	blobs    BlobResolver
	maxBytes int64
}

// FetcherOption configures a Fetcher
type FetcherOption func(*Fetcher)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(client *http.Client) FetcherOption {
	return func(f *Fetcher) { f.client = client }
}

// WithFilesystem sets the filesystem used for file:// URLs and paths
func WithFilesystem(fs afero.Fs) FetcherOption {
	return func(f *Fetcher) { f.fs = fs }
}

// WithBlobResolver enables blob: URLs
func WithBlobResolver(blobs BlobResolver) FetcherOption {
	return func(f *Fetcher) { f.blobs = blobs }
}

// WithMaxPayload caps the number of bytes read per fetch
func WithMaxPayload(n int64) FetcherOption {
	return func(f *Fetcher) { f.maxBytes = n }
}

// NewFetcher creates a Fetcher backed by the OS filesystem and a 30s HTTP client
func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client:   &http.Client{Timeout: 30 * time.Second},
		fs:       afero.NewOsFs(),
		maxBytes: DefaultMaxPayload,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch returns the payload behind rawURL and a name usable for format detection.
// Every failure wraps ErrFetchFailed.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, "", fmt.Errorf("%w: %w", ErrFetchFailed, ErrEmptyURL)
	}

	scheme := ""
	if i := strings.Index(rawURL, ":"); i > 1 {
		scheme = strings.ToLower(rawURL[:i])
	}

	switch scheme {
	case "http", "https":
		return f.fetchHTTP(ctx, rawURL)
	case "data":
		return decodeDataURL(rawURL)
	case "blob":
		return f.fetchBlob(rawURL)
	case "file":
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %w", ErrFetchFailed, err)
		}
		return f.fetchFile(u.Path)
	default:
		return f.fetchFile(rawURL)
	}
}

func (f *Fetcher) fetchHTTP(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		slog.Warn("audio fetch request failed", "url", rawURL, "error", err)
		return nil, "", fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Warn("audio fetch returned non-success status", "url", rawURL, "status", resp.StatusCode)
		return nil, "", fmt.Errorf("%w: %s: status %d", ErrFetchFailed, rawURL, resp.StatusCode)
	}

	data, err := f.readCapped(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("%w: reading body: %w", ErrFetchFailed, err)
	}

	name := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		name = path.Base(u.Path)
	}
	if ext := extensionForMediaType(resp.Header.Get("Content-Type")); ext != "" && path.Ext(name) == "" {
		name += ext
	}

	slog.Debug("audio fetched over http", "url", rawURL, "size_bytes", len(data), "name", name)
	return data, name, nil
}

func (f *Fetcher) fetchBlob(rawURL string) ([]byte, string, error) {
	if f.blobs == nil {
		return nil, "", fmt.Errorf("%w: %s: no blob resolver", ErrFetchFailed, rawURL)
	}
	data, ok := f.blobs.ResolveBlob(rawURL)
	if !ok {
		return nil, "", fmt.Errorf("%w: %s: %w", ErrFetchFailed, rawURL, ErrBlobRevoked)
	}
	return data, rawURL, nil
}

func (f *Fetcher) fetchFile(name string) ([]byte, string, error) {
	file, err := f.fs.Open(name)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	defer file.Close()

	data, err := f.readCapped(file)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	return data, name, nil
}

// readCapped reads r whole, failing rather than truncating past maxBytes
func (f *Fetcher) readCapped(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, f.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, f.maxBytes)
	}
	return data, nil
}

// decodeDataURL parses data:[<mediatype>][;base64],<payload>
func decodeDataURL(rawURL string) ([]byte, string, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(rawURL, "data:"), ",")
	if !ok {
		return nil, "", fmt.Errorf("%w: malformed data url", ErrFetchFailed)
	}

	mediaType := meta
	isBase64 := false
	if strings.HasSuffix(meta, ";base64") {
		mediaType = strings.TrimSuffix(meta, ";base64")
		isBase64 = true
	}

	var data []byte
	if isBase64 {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, "", fmt.Errorf("%w: invalid base64 payload: %w", ErrFetchFailed, err)
		}
		data = decoded
	} else {
		unescaped, err := url.PathUnescape(payload)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %w", ErrFetchFailed, err)
		}
		data = []byte(unescaped)
	}

	return data, "inline" + extensionForMediaType(mediaType), nil
}

// DataURL encodes data as a base64 data: URL
func DataURL(mediaType string, data []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func extensionForMediaType(mediaType string) string {
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	if i := strings.Index(mediaType, ";"); i >= 0 {
		mediaType = mediaType[:i]
	}
	switch mediaType {
	case "audio/mpeg", "audio/mp3", "audio/x-mpeg":
		return ".mp3"
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
		return ".wav"
	case "audio/aiff", "audio/x-aiff":
		return ".aiff"
	default:
		return ""
	}
}
