package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stevenzev/expressdiff/internal/config"
	"github.com/stevenzev/expressdiff/internal/controller"
	"github.com/stevenzev/expressdiff/internal/scheduler"
	"github.com/stevenzev/expressdiff/internal/stage"
	"github.com/stevenzev/expressdiff/internal/store"
	"github.com/stevenzev/expressdiff/internal/template"
	"github.com/stevenzev/expressdiff/internal/validator"
)

// fakeScheduler is a minimal controller.Scheduler stub so these tests never
// shell out to a real batch scheduler.
type fakeScheduler struct {
	nextJobID string
}

func (f *fakeScheduler) Submit(ctx context.Context, scriptPath string) (string, error) {
	return f.nextJobID, nil
}
func (f *fakeScheduler) Status(ctx context.Context, jobID string) (scheduler.JobStatus, error) {
	return scheduler.StatusUnknown, nil
}
func (f *fakeScheduler) Cancel(ctx context.Context, jobID string) error { return nil }
func (f *fakeScheduler) Accounts(ctx context.Context) ([]string, error) {
	return []string{"acct-A"}, nil
}

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	installDir := t.TempDir()
	workDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(installDir, "slurm_templates"), 0o755); err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{InstallDir: installDir, WorkDir: workDir}
	if err := os.MkdirAll(cfg.RunsDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, d := range stage.Registry {
		body := "#!/bin/bash\necho {RUN_ID} {ACCOUNT} {ADAPTER_TYPE}\n"
		if err := os.WriteFile(filepath.Join(cfg.TemplatesDir(), string(d.Name)+".template"), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	st := store.New(cfg)
	v := validator.New(cfg)
	tmpl := template.New(cfg)
	ctrl := controller.New(cfg, st, v, tmpl, &fakeScheduler{nextJobID: "42"})

	srv := New(Config{Addr: "127.0.0.1:0"}, ctrl, cfg, "test", nil)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return httptest.NewServer(srv.httpSrv.Handler)
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestHandleHealth_ReturnsOK(t *testing.T) {
	ts := testServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d", resp.StatusCode)
	}
}

func TestCreateRun_ThenGetRun_RoundTrips(t *testing.T) {
	ts := testServer(t)
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/runs", CreateRunRequest{Name: "exp1", Account: "acct-A"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create run: got status %d", resp.StatusCode)
	}
	var created RunInfo
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	if created.RunID == "" {
		t.Fatal("expected non-empty run_id")
	}
	if len(created.Stages) != len(stage.Registry) {
		t.Fatalf("got %d stages, want %d", len(created.Stages), len(stage.Registry))
	}

	resp2, err := http.Get(ts.URL + "/runs/" + created.RunID)
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("get run: got status %d", resp2.StatusCode)
	}
	var fetched RunInfo
	if err := json.NewDecoder(resp2.Body).Decode(&fetched); err != nil {
		t.Fatal(err)
	}
	if fetched.RunID != created.RunID {
		t.Fatalf("got run_id %q, want %q", fetched.RunID, created.RunID)
	}
}

func TestCreateRun_MissingNameIsBadRequest(t *testing.T) {
	ts := testServer(t)
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/runs", CreateRunRequest{Account: "acct-A"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("got status %d, want 400", resp.StatusCode)
	}
}

func TestSubmitStage_DependencyNotSatisfiedReturnsBadRequest(t *testing.T) {
	ts := testServer(t)
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/runs", CreateRunRequest{Name: "exp1", Account: "acct-A"})
	var created RunInfo
	json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()

	resp2 := postJSON(t, ts.URL+"/runs/"+created.RunID+"/stages/trim", SubmitStageRequest{Account: "acct-A"})
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Fatalf("got status %d, want 400 (trim depends on qc_raw)", resp2.StatusCode)
	}
}

func TestGetRun_UnknownIDIsNotFound(t *testing.T) {
	ts := testServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/runs/does-not-exist")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("got status %d, want 404", resp.StatusCode)
	}
}

func TestDeleteRun_Idempotent(t *testing.T) {
	ts := testServer(t)
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/runs/never-existed", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("deleting an absent run: got status %d, want 200", resp.StatusCode)
	}
}

func TestCSRF_CrossOriginPostRejected(t *testing.T) {
	ts := testServer(t)
	defer ts.Close()

	b, _ := json.Marshal(CreateRunRequest{Name: "exp1", Account: "acct-A"})
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/runs", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "https://evil.example.com")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("got status %d, want 403", resp.StatusCode)
	}
}

func TestAccounts_ReturnsSchedulerAccounts(t *testing.T) {
	ts := testServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/accounts")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var accounts []string
	if err := json.NewDecoder(resp.Body).Decode(&accounts); err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 1 || accounts[0] != "acct-A" {
		t.Fatalf("got %v, want [acct-A]", accounts)
	}
}
