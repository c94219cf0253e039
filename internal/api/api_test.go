package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	assert_ "github.com/stretchr/testify/assert"
	require_ "github.com/stretchr/testify/require"

	"github.com/R005ter/fwp"
	"github.com/R005ter/fwp/database"
	"github.com/R005ter/fwp/internal/blob"
	"github.com/R005ter/fwp/internal/credential"
	"github.com/R005ter/fwp/internal/jobs"
	"github.com/R005ter/fwp/internal/registry"
	"github.com/R005ter/fwp/internal/runner"
)

const testJar = "# Netscape HTTP Cookie File\n" +
	".youtube.com\tTRUE\t/\tTRUE\t0\tSID\tabc123\n"

type testSource struct {
	url string
}

func (s *testSource) URL() string { return s.url }

func (s *testSource) Recon(context.Context) (*fwp.SourceInfo, error) {
	return &fwp.SourceInfo{ID: s.url, Title: "Recon Title"}, nil
}

// testStack is the whole service wired against a scripted stand-in for
// the extraction tool and an on-disk sqlite database.
type testStack struct {
	handler http.Handler
	db      *database.Database
	jobs    *jobs.Registry
	media   *blob.LocalStore
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.sqlite3"))
	require_.NoError(t, err)
	require_.NoError(t, db.Migrate())
	t.Cleanup(db.Close)

	for _, name := range []string{"alice", "bob"} {
		require_.NoError(t, db.InsertTenant(&database.Tenant{Name: name}))
	}

	media, err := blob.NewLocalStore(filepath.Join(t.TempDir(), "media"))
	require_.NoError(t, err)
	creds, err := credential.NewStore(db, "")
	require_.NoError(t, err)
	reg := registry.New(db, media, nil)

	toolPath := filepath.Join(t.TempDir(), "yt-dlp")
	script := `#!/bin/sh
out=""
prev=""
for a in "$@"; do
	if [ "$prev" = "-o" ]; then out="$a"; fi
	prev="$a"
done
case "$*" in
*--version*)
	echo "2024.08.06"
	exit 0
	;;
*--dump-json*)
	echo '{"title": "Probed Title"}'
	exit 0
	;;
esac
echo "[download] 100% of 10.00MiB in 00:10"
echo data > "$out"
exit 0
`
	require_.NoError(t, os.WriteFile(toolPath, []byte(script), 0o755))
	run := runner.NewWithPaths(toolPath, "")

	providers := &fwp.ProviderRegistry{}
	require_.NoError(t, providers.Add(fwp.Provider{
		Name: "test",
		Match: func(s string) (fwp.Source, error) {
			if len(s) > 5 && s[:5] == "test:" {
				return &testSource{url: s}, nil
			}
			return nil, fwp.NewAcquireError(fwp.FailureInvalidSource, "unrecognised source")
		},
	}))

	jobRegistry := jobs.NewRegistry()
	orchestrator := jobs.NewOrchestrator(context.Background(), jobs.Config{
		Providers:   providers,
		Registry:    reg,
		Credentials: creds,
		Runner:      run,
		Jobs:        jobRegistry,
		Media:       media,
	})
	t.Cleanup(orchestrator.Close)

	server := NewServer(Config{
		Orchestrator: orchestrator,
		Jobs:         jobRegistry,
		Registry:     reg,
		Credentials:  creds,
		Runner:       run,
		Media:        media,
		Resolver: &TokenMapResolver{
			DB:     db,
			Tokens: map[string]string{"alice-token": "alice", "bob-token": "bob"},
		},
	})

	return &testStack{handler: server.Router(), db: db, jobs: jobRegistry, media: media}
}

func (s *testStack) request(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require_.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("X-Auth-Token", token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require_.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// startDownload kicks off a job and waits for it to finish, returning
// the terminal filename.
func (s *testStack) startDownload(t *testing.T, token, url string) string {
	t.Helper()
	rec := s.request(t, http.MethodPost, "/api/download", token, map[string]string{"url": url})
	require_.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode(t, rec)
	id, ok := resp["id"].(string)
	require_.True(t, ok, "expected a job id, got %v", resp)

	job := s.jobs.Get(jobs.JobID(id))
	require_.NotNil(t, job)
	select {
	case <-job.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("job did not finish in time")
	}
	snap := job.Snapshot()
	require_.Equal(t, jobs.StatusComplete, snap.Status, snap.Err)
	return snap.Filename
}

func TestAuthRequired(t *testing.T) {
	assert := assert_.New(t)
	stack := newTestStack(t)

	rec := stack.request(t, http.MethodGet, "/api/videos", "", nil)
	assert.Equal(http.StatusUnauthorized, rec.Code)

	rec = stack.request(t, http.MethodGet, "/api/videos", "wrong-token", nil)
	assert.Equal(http.StatusUnauthorized, rec.Code)

	rec = stack.request(t, http.MethodGet, "/api/videos", "alice-token", nil)
	assert.Equal(http.StatusOK, rec.Code)
}

func TestStartDownloadValidation(t *testing.T) {
	assert := assert_.New(t)
	stack := newTestStack(t)

	rec := stack.request(t, http.MethodPost, "/api/download", "alice-token", map[string]string{})
	assert.Equal(http.StatusBadRequest, rec.Code)

	rec = stack.request(t, http.MethodPost, "/api/download", "alice-token", map[string]string{"url": "gopher://nonsense"})
	assert.Equal(http.StatusBadRequest, rec.Code)
	assert.Contains(decode(t, rec)["error"], "invalid")
}

func TestDownloadLifecycle(t *testing.T) {
	assert := assert_.New(t)
	stack := newTestStack(t)

	rec := stack.request(t, http.MethodPost, "/api/download", "alice-token", map[string]string{"url": "test:finale"})
	assert.Equal(http.StatusOK, rec.Code)
	id := decode(t, rec)["id"].(string)

	job := stack.jobs.Get(jobs.JobID(id))
	require_.NotNil(t, job)
	select {
	case <-job.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("job did not finish in time")
	}

	rec = stack.request(t, http.MethodGet, "/api/download/"+id, "alice-token", nil)
	assert.Equal(http.StatusOK, rec.Code)
	status := decode(t, rec)
	assert.Equal("complete", status["status"])
	assert.EqualValues(100, status["progress"])
	assert.Equal("Probed Title", status["title"])
	assert.NotEmpty(status["filename"])
	assert.Nil(status["error"])

	// The finished asset shows up in the library listing.
	rec = stack.request(t, http.MethodGet, "/api/videos", "alice-token", nil)
	assert.Equal(http.StatusOK, rec.Code)
	assert.Contains(decode(t, rec), status["filename"].(string))
}

func TestDownloadStatusTenantIsolation(t *testing.T) {
	assert := assert_.New(t)
	stack := newTestStack(t)

	rec := stack.request(t, http.MethodPost, "/api/download", "alice-token", map[string]string{"url": "test:finale"})
	require_.Equal(t, http.StatusOK, rec.Code)
	id := decode(t, rec)["id"].(string)

	// Another tenant's job is indistinguishable from a missing one.
	rec = stack.request(t, http.MethodGet, "/api/download/"+id, "bob-token", nil)
	assert.Equal(http.StatusNotFound, rec.Code)

	rec = stack.request(t, http.MethodGet, "/api/download/nothere1", "alice-token", nil)
	assert.Equal(http.StatusNotFound, rec.Code)
}

func TestDownloadDedup(t *testing.T) {
	assert := assert_.New(t)
	stack := newTestStack(t)

	filename := stack.startDownload(t, "alice-token", "test:shared")

	// Bob asking for the same source gets the shared asset immediately.
	rec := stack.request(t, http.MethodPost, "/api/download", "bob-token", map[string]string{"url": "test:shared"})
	assert.Equal(http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.Equal("exists", resp["status"])
	assert.Equal(filename, resp["filename"])

	rec = stack.request(t, http.MethodGet, "/api/videos", "bob-token", nil)
	assert.Contains(decode(t, rec), filename)
}

func TestDeleteVideo(t *testing.T) {
	assert := assert_.New(t)
	stack := newTestStack(t)

	rec := stack.request(t, http.MethodDelete, "/api/videos/..%2Fetc%2Fpasswd", "alice-token", nil)
	assert.Equal(http.StatusBadRequest, rec.Code)
	rec = stack.request(t, http.MethodDelete, "/api/videos/nothere0.mp4", "alice-token", nil)
	assert.Equal(http.StatusNotFound, rec.Code)

	filename := stack.startDownload(t, "alice-token", "test:finale")

	// Sole reference removed: the asset is swept and its bytes purged.
	rec = stack.request(t, http.MethodDelete, "/api/videos/"+filename, "alice-token", nil)
	assert.Equal(http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.Equal(true, resp["success"])
	assert.Contains(resp["deleted"], filename)
	_, err := os.Stat(stack.media.Path(filename))
	assert.True(os.IsNotExist(err))

	rec = stack.request(t, http.MethodDelete, "/api/videos/"+filename, "alice-token", nil)
	assert.Equal(http.StatusNotFound, rec.Code)
}

func TestDeleteSharedVideoKeepsAsset(t *testing.T) {
	assert := assert_.New(t)
	stack := newTestStack(t)

	filename := stack.startDownload(t, "alice-token", "test:shared")
	rec := stack.request(t, http.MethodPost, "/api/download", "bob-token", map[string]string{"url": "test:shared"})
	require_.Equal(t, http.StatusOK, rec.Code)

	// Alice deleting her reference must not take Bob's copy with it.
	rec = stack.request(t, http.MethodDelete, "/api/videos/"+filename, "alice-token", nil)
	assert.Equal(http.StatusOK, rec.Code)
	assert.Empty(decode(t, rec)["deleted"])
	assert.FileExists(stack.media.Path(filename))

	rec = stack.request(t, http.MethodGet, "/api/videos", "bob-token", nil)
	assert.Contains(decode(t, rec), filename)
}

func TestServeVideo(t *testing.T) {
	assert := assert_.New(t)
	stack := newTestStack(t)

	require_.NoError(t, os.WriteFile(stack.media.Path("abc12345.mp4"), []byte("video bytes"), 0o644))

	rec := stack.request(t, http.MethodGet, "/videos/abc12345.mp4", "", nil)
	assert.Equal(http.StatusOK, rec.Code)
	assert.Equal("video bytes", rec.Body.String())

	rec = stack.request(t, http.MethodGet, "/videos/nothere0.mp4", "", nil)
	assert.Equal(http.StatusNotFound, rec.Code)
	rec = stack.request(t, http.MethodGet, "/videos/..%2Fsecret.mp4", "", nil)
	assert.Equal(http.StatusBadRequest, rec.Code)
}

func TestSetCookies(t *testing.T) {
	assert := assert_.New(t)
	stack := newTestStack(t)

	rec := stack.request(t, http.MethodPost, "/api/auth/cookies", "alice-token", map[string]string{})
	assert.Equal(http.StatusBadRequest, rec.Code)

	rec = stack.request(t, http.MethodPost, "/api/auth/cookies", "alice-token", map[string]string{"cookies": "not a jar"})
	assert.Equal(http.StatusBadRequest, rec.Code)
	assert.Contains(decode(t, rec)["error"], "Netscape")

	rec = stack.request(t, http.MethodPost, "/api/auth/cookies", "alice-token", map[string]string{"cookies": testJar})
	assert.Equal(http.StatusOK, rec.Code)
	assert.Equal(true, decode(t, rec)["success"])
}

func TestHealth(t *testing.T) {
	assert := assert_.New(t)
	stack := newTestStack(t)

	rec := stack.request(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.Equal("ok", resp["status"])
	assert.Equal(true, resp["ytdlp_available"])
	assert.Equal("2024.08.06", resp["ytdlp_version"])
}
