package api_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/xraph/atelier"
	"github.com/xraph/atelier/api"
	"github.com/xraph/atelier/artifact"
	"github.com/xraph/atelier/graph"
)

func testGraph() graph.JobGraph {
	return graph.JobGraph{
		"3": {Kind: "KSampler", Inputs: map[string]any{"seed": float64(1)}},
	}
}

func TestNew_RejectsBadBase(t *testing.T) {
	for _, base := range []string{"ftp://host", "not-a-url", ""} {
		if _, err := api.New(base); err == nil {
			t.Errorf("New(%q) should fail", base)
		}
	}
}

func TestSubmit(t *testing.T) {
	var gotBody map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/prompt" {
			t.Errorf("request = %s %s, want POST /prompt", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		_, _ = w.Write([]byte(`{"prompt_id":"job-7"}`))
	}))
	defer srv.Close()

	c, err := api.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	jobID, err := c.Submit(context.Background(), testGraph(), "client-1")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if jobID != "job-7" {
		t.Errorf("jobID = %q, want job-7", jobID)
	}
	if _, ok := gotBody["prompt"]; !ok {
		t.Error("request body must carry the job graph under \"prompt\"")
	}
	var clientID string
	_ = json.Unmarshal(gotBody["client_id"], &clientID)
	if clientID != "client-1" {
		t.Errorf("client_id = %q, want client-1", clientID)
	}
}

func TestSubmit_BadRequestIsValidation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid prompt"}`))
	}))
	defer srv.Close()

	c, _ := api.New(srv.URL)
	_, err := c.Submit(context.Background(), testGraph(), "client-1")
	if err == nil {
		t.Fatal("Submit should fail on 400")
	}
	if atelier.KindOf(err) != atelier.KindValidation {
		t.Errorf("kind = %v, want validation", atelier.KindOf(err))
	}
	if !strings.Contains(err.Error(), "400") {
		t.Errorf("error %q must mention the status", err)
	}
}

func TestSubmit_ServerErrorIsExecution(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, _ := api.New(srv.URL)
	_, err := c.Submit(context.Background(), testGraph(), "client-1")
	if atelier.KindOf(err) != atelier.KindExecution {
		t.Errorf("kind = %v, want execution", atelier.KindOf(err))
	}
}

func TestStatus_NotCompletedYet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/history/job-7" {
			t.Errorf("path = %s, want /history/job-7", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, _ := api.New(srv.URL)
	st, err := c.Status(context.Background(), "job-7")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Completed || st.Failed {
		t.Errorf("status = %+v, want pending", st)
	}
}

func TestStatus_Completed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"job-7":{
			"status":{"completed":true,"status_str":"success"},
			"outputs":{"9":{"images":[{"filename":"out_001.png"}]}}
		}}`))
	}))
	defer srv.Close()

	c, _ := api.New(srv.URL)
	st, err := c.Status(context.Background(), "job-7")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !st.Completed {
		t.Error("status should be completed")
	}
	if len(st.Outputs) != 1 {
		t.Errorf("outputs = %d entries, want 1", len(st.Outputs))
	}
}

func TestStatus_JobLevelError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"job-7":{"status":{"completed":false,"status_str":"error"}}}`))
	}))
	defer srv.Close()

	c, _ := api.New(srv.URL)
	st, err := c.Status(context.Background(), "job-7")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !st.Failed {
		t.Error("status should report the job-level failure")
	}
	if !strings.Contains(st.Message, "job-7") {
		t.Errorf("message %q must name the job", st.Message)
	}
}

func TestUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload/image" {
			t.Errorf("path = %s, want /upload/image", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		file, header, err := r.FormFile("image")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer func() { _ = file.Close() }()
		data, _ := io.ReadAll(file)
		if string(data) != "png-bytes" {
			t.Errorf("payload = %q, want png-bytes", data)
		}
		if header.Filename != "cat.png" {
			t.Errorf("filename = %q, want cat.png", header.Filename)
		}
		if r.FormValue("overwrite") != "true" {
			t.Errorf("overwrite = %q, want true", r.FormValue("overwrite"))
		}
		_, _ = w.Write([]byte(`{"name":"cat.png","subfolder":""}`))
	}))
	defer srv.Close()

	c, _ := api.New(srv.URL)
	handle, err := c.Upload(context.Background(), []byte("png-bytes"), "cat.png", true)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if handle != "cat.png" {
		t.Errorf("handle = %q, want cat.png", handle)
	}
}

func TestUpload_SubfolderPrefixesHandle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name":"cat.png","subfolder":"inputs"}`))
	}))
	defer srv.Close()

	c, _ := api.New(srv.URL)
	handle, err := c.Upload(context.Background(), []byte("x"), "cat.png", false)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if handle != "inputs/cat.png" {
		t.Errorf("handle = %q, want inputs/cat.png", handle)
	}
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/view" {
			t.Errorf("path = %s, want /view", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("filename") != "out_001.png" || q.Get("subfolder") != "sub" || q.Get("type") != "output" {
			t.Errorf("query = %v, want filename/subfolder/type", q)
		}
		_, _ = w.Write([]byte("artifact-bytes"))
	}))
	defer srv.Close()

	c, _ := api.New(srv.URL)
	data, err := c.Fetch(context.Background(), artifact.Ref{
		Filename:  "out_001.png",
		Subfolder: "sub",
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(data) != "artifact-bytes" {
		t.Errorf("data = %q, want artifact-bytes", data)
	}
}

func TestFetch_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, _ := api.New(srv.URL)
	_, err := c.Fetch(context.Background(), artifact.Ref{Filename: "gone.png"})
	if err == nil {
		t.Fatal("Fetch should fail on 404")
	}
	if atelier.KindOf(err) != atelier.KindDownload {
		t.Errorf("kind = %v, want download", atelier.KindOf(err))
	}
	if !strings.Contains(err.Error(), "gone.png") {
		t.Errorf("error %q must name the artifact", err)
	}
}
