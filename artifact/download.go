package artifact

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"sync"

	"golang.org/x/time/rate"

	"github.com/xraph/atelier"
)

// FetchFunc retrieves the raw bytes for one artifact ref.
type FetchFunc func(ctx context.Context, ref Ref) ([]byte, error)

// Downloaded is one fetched artifact, already transcoded to its
// transport-ready base64 form. The raw buffer is released before the value
// is returned, so holding Downloaded values costs encoded size only.
type Downloaded struct {
	Ref      Ref
	MimeType string
	// Data is the standard-base64 encoding of the artifact bytes.
	Data string
	// Size is the raw byte length before encoding.
	Size int64
}

// Downloader fetches artifact bytes in fixed-size batches. Concurrency is
// capped at the batch size specifically to bound peak raw-buffer memory to
// one batch's worth of bytes.
type Downloader struct {
	fetch     FetchFunc
	batchSize int
	ceiling   int64
	fileLimit int64
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// DownloaderOption configures a Downloader.
type DownloaderOption func(*Downloader)

// WithBatchSize sets how many artifacts are fetched concurrently.
func WithBatchSize(n int) DownloaderOption {
	return func(d *Downloader) {
		if n > 0 {
			d.batchSize = n
		}
	}
}

// WithMemoryCeiling sets the soft limit on accumulated artifact bytes.
// Approaching it logs a warning; no batch is rejected from the estimate.
func WithMemoryCeiling(n int64) DownloaderOption {
	return func(d *Downloader) { d.ceiling = n }
}

// WithFileLimit rejects any single artifact larger than n bytes.
func WithFileLimit(n int64) DownloaderOption {
	return func(d *Downloader) { d.fileLimit = n }
}

// WithRateLimit caps fetches per second across all batches.
func WithRateLimit(perSecond float64) DownloaderOption {
	return func(d *Downloader) {
		if perSecond > 0 {
			d.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) DownloaderOption {
	return func(d *Downloader) { d.logger = l }
}

// NewDownloader creates a Downloader around a fetch function.
// Defaults: batch size 3, 512MiB ceiling, 200MiB per-file limit, no rate cap.
func NewDownloader(fetch FetchFunc, opts ...DownloaderOption) *Downloader {
	d := &Downloader{
		fetch:     fetch,
		batchSize: 3,
		ceiling:   512 << 20,
		fileLimit: 200 << 20,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// FetchAll downloads every ref, batch by batch. Within a batch fetches fan
// out concurrently and join before the next batch starts. Each buffer is
// base64-encoded and its raw reference dropped inside the worker goroutine,
// so at no point do more than batchSize raw buffers exist.
//
// The first failed fetch aborts the remaining batches; results already
// fetched are discarded.
func (d *Downloader) FetchAll(ctx context.Context, refs []Ref) ([]Downloaded, error) {
	out := make([]Downloaded, 0, len(refs))
	var total int64

	for start := 0; start < len(refs); start += d.batchSize {
		end := min(start+d.batchSize, len(refs))
		batch := refs[start:end]

		// The estimate needs at least one real artifact size; warning off
		// the per-file limit would fire on the first batch of every job.
		if d.ceiling > 0 && len(out) > 0 {
			estimate := total + d.estimate(len(batch), total, int64(len(out)))
			if estimate >= d.ceiling {
				d.logger.Warn("approaching artifact memory ceiling",
					slog.Int64("accumulated_bytes", total),
					slog.Int64("ceiling_bytes", d.ceiling),
					slog.Int("remaining", len(refs)-start),
				)
			}
		}

		results := make([]Downloaded, len(batch))
		errs := make([]error, len(batch))
		var wg sync.WaitGroup
		for i, ref := range batch {
			i, ref := i, ref
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i], errs[i] = d.fetchOne(ctx, ref)
			}()
		}
		wg.Wait()

		for i, err := range errs {
			if err != nil {
				return nil, err
			}
			total += results[i].Size
			out = append(out, results[i])
		}
	}
	return out, nil
}

// estimate guesses the next batch's raw size from the running average of the
// artifacts fetched so far. fetched must be positive.
func (d *Downloader) estimate(batchLen int, total, fetched int64) int64 {
	return total / fetched * int64(batchLen)
}

func (d *Downloader) fetchOne(ctx context.Context, ref Ref) (Downloaded, error) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return Downloaded{}, atelier.E(atelier.KindCancelled, "download",
				fmt.Sprintf("fetch %q aborted", ref.Filename), err)
		}
	}

	buf, err := d.fetch(ctx, ref)
	if err != nil {
		return Downloaded{}, err
	}
	size := int64(len(buf))
	if d.fileLimit > 0 && size > d.fileLimit {
		return Downloaded{}, atelier.Errorf(atelier.KindDownload, "download",
			"artifact %q is %d bytes, exceeding the %d byte file limit",
			ref.Filename, size, d.fileLimit)
	}

	encoded := base64.StdEncoding.EncodeToString(buf)
	buf = nil //nolint:ineffassign,wastedassign // drop the raw buffer as soon as it is encoded

	return Downloaded{
		Ref:      ref,
		MimeType: mimeFor(ref),
		Data:     encoded,
		Size:     size,
	}, nil
}

// mimeFor derives a mime type from the artifact filename, falling back on
// the media class.
func mimeFor(ref Ref) string {
	if t := mime.TypeByExtension(filepath.Ext(ref.Filename)); t != "" {
		return t
	}
	if ref.Media == MediaVideo {
		return "video/mp4"
	}
	return "image/png"
}
