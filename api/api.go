// Package api provides typed bindings for the compute server's HTTP surface:
// submit a job graph, poll job status, upload an asset, and fetch artifact
// bytes. All calls go through a transport.Adapter so the network layer stays
// swappable.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/xraph/atelier"
	"github.com/xraph/atelier/artifact"
	"github.com/xraph/atelier/graph"
	"github.com/xraph/atelier/transport"
)

// Client issues requests against one compute server.
type Client struct {
	base    string
	adapter transport.Adapter
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithAdapter sets the transport adapter.
func WithAdapter(a transport.Adapter) Option {
	return func(c *Client) { c.adapter = a }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client for the server at base, e.g. "http://127.0.0.1:8188".
func New(base string, opts ...Option) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, atelier.Errorf(atelier.KindValidation, "api",
			"server url %q must be http or https", base)
	}
	c := &Client{
		base:    strings.TrimRight(base, "/"),
		adapter: transport.NewHTTP(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// submitResponse is the wire shape of a successful submission.
type submitResponse struct {
	PromptID   string         `json:"prompt_id"`
	NodeErrors map[string]any `json:"node_errors"`
}

// Submit enqueues a job graph and returns the server-assigned job id.
// Submission is safe to retry; the server dedupes by content.
func (c *Client) Submit(ctx context.Context, g graph.JobGraph, clientID string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"prompt":    g,
		"client_id": clientID,
	})
	if err != nil {
		return "", atelier.E(atelier.KindValidation, "submit", "encode job graph", err)
	}

	resp, err := c.adapter.Do(ctx, transport.Request{
		Method: http.MethodPost,
		URL:    c.base + "/prompt",
		Header: jsonHeader(),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", c.statusError("submit", resp)
	}

	var sub submitResponse
	if err := json.Unmarshal(resp.Body, &sub); err != nil {
		return "", atelier.E(atelier.KindExecution, "submit", "decode submit response", err)
	}
	if sub.PromptID == "" {
		return "", atelier.Errorf(atelier.KindExecution, "submit", "server returned no job id")
	}
	return sub.PromptID, nil
}

// JobStatus is one poll's view of a job.
type JobStatus struct {
	Completed bool
	// Failed is set when the server recorded a job-level error; Message
	// carries its description.
	Failed  bool
	Message string
	// Outputs holds the raw per-node output documents, present only once
	// the job completed.
	Outputs map[string]json.RawMessage
}

// historyEntry is the wire shape of one job inside the history document.
type historyEntry struct {
	Status struct {
		Completed bool   `json:"completed"`
		StatusStr string `json:"status_str"`
		Messages  []any  `json:"messages"`
	} `json:"status"`
	Outputs map[string]json.RawMessage `json:"outputs"`
}

// Status fetches the job's history entry. A job the server has not finished
// yet yields Completed=false with nil Outputs.
func (c *Client) Status(ctx context.Context, jobID string) (*JobStatus, error) {
	resp, err := c.adapter.Do(ctx, transport.Request{
		Method: http.MethodGet,
		URL:    c.base + "/history/" + url.PathEscape(jobID),
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError("poll", resp)
	}

	var history map[string]historyEntry
	if err := json.Unmarshal(resp.Body, &history); err != nil {
		return nil, atelier.E(atelier.KindExecution, "poll",
			fmt.Sprintf("decode history for job %s", jobID), err)
	}

	entry, ok := history[jobID]
	if !ok {
		// Not in history yet: still queued or running.
		return &JobStatus{}, nil
	}
	st := &JobStatus{
		Completed: entry.Status.Completed || len(entry.Outputs) > 0,
		Outputs:   entry.Outputs,
	}
	if entry.Status.StatusStr == "error" {
		st.Failed = true
		st.Message = fmt.Sprintf("job %s failed on the server", jobID)
	}
	return st, nil
}

// uploadResponse is the wire shape of a successful asset upload.
type uploadResponse struct {
	Name      string `json:"name"`
	Subfolder string `json:"subfolder"`
}

// Upload pushes asset bytes to the server and returns the server-assigned
// name, to be used as a node input value.
func (c *Client) Upload(ctx context.Context, data []byte, filename string, overwrite bool) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("image", filename)
	if err != nil {
		return "", atelier.E(atelier.KindUpload, "upload", "build multipart form", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", atelier.E(atelier.KindUpload, "upload", "write multipart payload", err)
	}
	if overwrite {
		if err := w.WriteField("overwrite", "true"); err != nil {
			return "", atelier.E(atelier.KindUpload, "upload", "write overwrite field", err)
		}
	}
	if err := w.Close(); err != nil {
		return "", atelier.E(atelier.KindUpload, "upload", "close multipart form", err)
	}

	header := http.Header{}
	header.Set("Content-Type", w.FormDataContentType())
	resp, err := c.adapter.Do(ctx, transport.Request{
		Method: http.MethodPost,
		URL:    c.base + "/upload/image",
		Header: header,
		Body:   &buf,
	})
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", c.statusError("upload", resp)
	}

	var up uploadResponse
	if err := json.Unmarshal(resp.Body, &up); err != nil {
		return "", atelier.E(atelier.KindUpload, "upload",
			fmt.Sprintf("decode upload response for %q", filename), err)
	}
	if up.Name == "" {
		up.Name = filename
	}
	if up.Subfolder != "" {
		return up.Subfolder + "/" + up.Name, nil
	}
	return up.Name, nil
}

// Fetch retrieves the raw bytes of one artifact.
func (c *Client) Fetch(ctx context.Context, ref artifact.Ref) ([]byte, error) {
	folder := ref.FolderType
	if folder == "" {
		folder = "output"
	}
	q := url.Values{}
	q.Set("filename", ref.Filename)
	q.Set("subfolder", ref.Subfolder)
	q.Set("type", folder)

	resp, err := c.adapter.Do(ctx, transport.Request{
		Method: http.MethodGet,
		URL:    c.base + "/view?" + q.Encode(),
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, atelier.Errorf(atelier.KindDownload, "download",
			"fetch %q: %s", ref.Filename, statusHint(resp.StatusCode))
	}
	return resp.Body, nil
}

// statusError maps a non-200 server response onto the error taxonomy:
// 4xx except 408/429 means a structurally bad request (validation), the
// rest is server-side failure (execution). The body's first line rides
// along for diagnostics.
func (c *Client) statusError(op string, resp *transport.Response) error {
	kind := atelier.KindExecution
	if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
		kind = atelier.KindValidation
	}
	detail := firstLine(resp.Body)
	msg := statusHint(resp.StatusCode)
	if detail != "" {
		msg = fmt.Sprintf("%s (%s)", msg, detail)
	}
	return atelier.Errorf(kind, op, "%s", msg)
}

// statusHint renders an HTTP status with a remediation hint where one helps.
func statusHint(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "server rejected the request (HTTP 400): check the job graph and override values"
	case http.StatusForbidden:
		return "server refused access (HTTP 403): check authentication and server allow-lists"
	case http.StatusNotFound:
		return "resource not found (HTTP 404): check the id, filename, and subfolder"
	default:
		return fmt.Sprintf("server returned HTTP %d", code)
	}
}

func firstLine(body []byte) string {
	s := strings.TrimSpace(string(body))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	const maxDetail = 200
	if len(s) > maxDetail {
		s = s[:maxDetail]
	}
	return s
}

func jsonHeader() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	return h
}
