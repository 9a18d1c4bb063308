// Package ingest acquires asset bytes, from a URL or from an inline binary
// payload carried by the host environment's input items, validates them, and
// uploads them to the compute server. The returned handle is stored into the
// job graph as a node input value.
package ingest

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/xraph/atelier"
	"github.com/xraph/atelier/retry"
	"github.com/xraph/atelier/transport"
)

// Payload is one named inline binary attachment on an input item.
type Payload struct {
	// Data is the base64-encoded content.
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
	FileName string `json:"fileName"`
}

// Item is one host-environment input item. Items may carry any number of
// named binary payloads.
type Item struct {
	Binary map[string]Payload `json:"binary"`
}

// Uploader pushes asset bytes to the compute server.
// api.Client satisfies this interface.
type Uploader interface {
	Upload(ctx context.Context, data []byte, filename string, overwrite bool) (string, error)
}

// allowedMimes is the payload type allow-list for inline binary ingestion.
var allowedMimes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
	"image/gif":  true,
	"video/mp4":  true,
	"video/webm": true,
}

const (
	verdictTTL     = 10 * time.Minute
	verdictCleanup = 30 * time.Minute
)

// Ingestor validates and uploads assets.
type Ingestor struct {
	adapter  transport.Adapter
	uploader Uploader
	invoker  *retry.Invoker
	maxBytes int64
	timeout  time.Duration
	logger   *slog.Logger

	// verdicts memoizes cheap URL validation results so repeated overrides
	// against the same source skip re-parsing.
	verdicts *gocache.Cache
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithAdapter sets the transport adapter used for URL fetches.
func WithAdapter(a transport.Adapter) Option {
	return func(in *Ingestor) { in.adapter = a }
}

// WithInvoker sets the retry invoker wrapping uploads.
func WithInvoker(inv *retry.Invoker) Option {
	return func(in *Ingestor) { in.invoker = inv }
}

// WithMaxBytes sets the asset size ceiling enforced before upload.
func WithMaxBytes(n int64) Option {
	return func(in *Ingestor) { in.maxBytes = n }
}

// WithTimeout bounds a single URL fetch.
func WithTimeout(d time.Duration) Option {
	return func(in *Ingestor) { in.timeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(in *Ingestor) { in.logger = l }
}

// New creates an Ingestor uploading through uploader.
// Defaults: 50MiB size ceiling, 30s fetch timeout, 3 upload retries.
func New(uploader Uploader, opts ...Option) *Ingestor {
	in := &Ingestor{
		adapter:  transport.NewHTTP(),
		uploader: uploader,
		invoker:  retry.New(),
		maxBytes: 50 << 20,
		timeout:  30 * time.Second,
		logger:   slog.Default(),
		verdicts: gocache.New(verdictTTL, verdictCleanup),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// FromURL downloads the asset at rawURL, validates it, uploads it, and
// returns the server-assigned handle.
func (in *Ingestor) FromURL(ctx context.Context, rawURL string) (string, error) {
	u, err := in.validateURL(rawURL)
	if err != nil {
		return "", err
	}

	resp, err := in.adapter.Do(ctx, transport.Request{
		Method:  http.MethodGet,
		URL:     rawURL,
		Timeout: in.timeout,
	})
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", atelier.Errorf(atelier.KindDownload, "ingest", "%s", fetchHint(rawURL, resp.StatusCode))
	}
	if len(resp.Body) == 0 {
		return "", atelier.Errorf(atelier.KindDownload, "ingest",
			"url %s returned an empty payload", rawURL)
	}
	if in.maxBytes > 0 && int64(len(resp.Body)) > in.maxBytes {
		return "", atelier.Errorf(atelier.KindUpload, "ingest",
			"asset from %s is %d bytes, exceeding the %d byte limit",
			rawURL, len(resp.Body), in.maxBytes)
	}

	filename := filenameFromURL(u, resp.Header.Get("Content-Type"))
	return in.upload(ctx, resp.Body, filename)
}

// FromItems locates the named binary payload among the input items (all
// items are searched; the first match wins), validates it, uploads it, and
// returns the server-assigned handle.
func (in *Ingestor) FromItems(ctx context.Context, items []Item, key string) (string, error) {
	payload, ok := findPayload(items, key)
	if !ok {
		return "", atelier.Errorf(atelier.KindValidation, "ingest",
			"binary payload %q not found on any input item", key)
	}
	if payload.Data == "" {
		return "", atelier.Errorf(atelier.KindValidation, "ingest",
			"binary payload %q is empty", key)
	}

	// Reject from the declared (encoded) size before decoding, so an
	// oversized payload never allocates its decoded buffer.
	declared := base64.StdEncoding.DecodedLen(len(payload.Data))
	if in.maxBytes > 0 && int64(declared) > in.maxBytes {
		return "", atelier.Errorf(atelier.KindUpload, "ingest",
			"binary payload %q is about %d bytes, exceeding the %d byte limit",
			key, declared, in.maxBytes)
	}

	mimeType := normalizeMime(payload.MimeType)
	if mimeType != "" && !allowedMimes[mimeType] {
		return "", atelier.Errorf(atelier.KindValidation, "ingest",
			"binary payload %q has unsupported type %s (supported: png, jpeg, webp, gif, mp4, webm)",
			key, mimeType)
	}

	data, err := base64.StdEncoding.DecodeString(payload.Data)
	if err != nil {
		return "", atelier.E(atelier.KindValidation, "ingest",
			fmt.Sprintf("binary payload %q is not valid base64", key), err)
	}
	if in.maxBytes > 0 && int64(len(data)) > in.maxBytes {
		return "", atelier.Errorf(atelier.KindUpload, "ingest",
			"binary payload %q is %d bytes, exceeding the %d byte limit",
			key, len(data), in.maxBytes)
	}

	filename := payload.FileName
	if filename == "" {
		filename = generatedName(extForMime(mimeType))
	}
	return in.upload(ctx, data, filename)
}

func (in *Ingestor) upload(ctx context.Context, data []byte, filename string) (string, error) {
	in.logger.Info("uploading asset",
		slog.String("filename", filename),
		slog.Int("bytes", len(data)),
	)
	return retry.DoValue(ctx, in.invoker, "upload", func(ctx context.Context) (string, error) {
		return in.uploader.Upload(ctx, data, filename, true)
	})
}

// validateURL checks the scheme and caches the verdict; re-ingesting the
// same source within the TTL skips the parse.
func (in *Ingestor) validateURL(rawURL string) (*url.URL, error) {
	if v, found := in.verdicts.Get(rawURL); found {
		verdict := v.(urlVerdict) //nolint:errcheck // cache only ever stores urlVerdict
		return verdict.u, verdict.err
	}

	u, err := url.Parse(rawURL)
	verdict := urlVerdict{u: u}
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		verdict.err = atelier.Errorf(atelier.KindValidation, "ingest",
			"url %q must be http or https", rawURL)
		verdict.u = nil
	}
	in.verdicts.Set(rawURL, verdict, gocache.DefaultExpiration)
	return verdict.u, verdict.err
}

type urlVerdict struct {
	u   *url.URL
	err error
}

func findPayload(items []Item, key string) (Payload, bool) {
	for _, item := range items {
		if p, ok := item.Binary[key]; ok {
			return p, true
		}
	}
	return Payload{}, false
}

// fetchHint renders an HTTP failure while downloading a source URL, with a
// remediation hint per status.
func fetchHint(rawURL string, code int) string {
	switch code {
	case http.StatusBadRequest:
		return fmt.Sprintf("fetching %s failed (HTTP 400): if the source requires authentication, switch to binary input", rawURL)
	case http.StatusForbidden:
		return fmt.Sprintf("fetching %s was refused (HTTP 403): the remote host rejected the request; switch to binary input", rawURL)
	case http.StatusNotFound:
		return fmt.Sprintf("fetching %s failed (HTTP 404): check that the url is correct and publicly reachable", rawURL)
	default:
		return fmt.Sprintf("fetching %s failed with HTTP %d", rawURL, code)
	}
}

func filenameFromURL(u *url.URL, contentType string) string {
	base := path.Base(u.Path)
	if base != "" && base != "." && base != "/" && strings.Contains(base, ".") {
		return base
	}
	return generatedName(extForMime(normalizeMime(contentType)))
}

func generatedName(ext string) string {
	return "asset_" + uuid.NewString() + ext
}

func normalizeMime(s string) string {
	if s == "" {
		return ""
	}
	t, _, err := mime.ParseMediaType(s)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(s))
	}
	return t
}

func extForMime(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	default:
		return ".png"
	}
}
