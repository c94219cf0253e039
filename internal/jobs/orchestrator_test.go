package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	assert_ "github.com/stretchr/testify/assert"
	require_ "github.com/stretchr/testify/require"

	"github.com/R005ter/fwp"
	"github.com/R005ter/fwp/database"
	"github.com/R005ter/fwp/internal/blob"
	"github.com/R005ter/fwp/internal/credential"
	"github.com/R005ter/fwp/internal/registry"
	"github.com/R005ter/fwp/internal/runner"
)

// testSource avoids any network recon; the orchestrator only needs the
// canonical URL.
type testSource struct {
	url string
}

func (s *testSource) URL() string { return s.url }

func (s *testSource) Recon(context.Context) (*fwp.SourceInfo, error) {
	return &fwp.SourceInfo{ID: s.url, Title: "Recon Title"}, nil
}

func testProviders(t *testing.T) *fwp.ProviderRegistry {
	t.Helper()
	r := &fwp.ProviderRegistry{}
	require_.NoError(t, r.Add(fwp.Provider{
		Name: "test",
		Match: func(s string) (fwp.Source, error) {
			if len(s) > 5 && s[:5] == "test:" {
				return &testSource{url: s}, nil
			}
			return nil, fwp.NewAcquireError(fwp.FailureInvalidSource, "unrecognised source")
		},
	}))
	return r
}

// fakeTool writes a yt-dlp stand-in whose behaviour is switched on its
// own argument list: the metadata probe answers with a fixed title, and
// download attempts succeed or fail per the script body.
func fakeTool(t *testing.T, body string) *runner.Runner {
	t.Helper()
	path := filepath.Join(t.TempDir(), "yt-dlp")
	script := `#!/bin/sh
out=""
prev=""
for a in "$@"; do
	if [ "$prev" = "-o" ]; then out="$a"; fi
	prev="$a"
done
case "$*" in
*--dump-json*)
	echo '{"title": "Probed Title"}'
	exit 0
	;;
esac
` + body
	require_.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return runner.NewWithPaths(path, "")
}

const succeedBody = `
echo "[download]  50.0% of 10.00MiB at 1.00MiB/s ETA 00:05"
echo "[download] 100% of 10.00MiB in 00:10"
echo data > "$out"
exit 0
`

func newTestOrchestrator(t *testing.T, run *runner.Runner) (*Orchestrator, *registry.Registry, *database.Database) {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.sqlite3"))
	require_.NoError(t, err)
	require_.NoError(t, db.Migrate())
	t.Cleanup(db.Close)

	media, err := blob.NewLocalStore(filepath.Join(t.TempDir(), "media"))
	require_.NoError(t, err)
	creds, err := credential.NewStore(db, "")
	require_.NoError(t, err)
	reg := registry.New(db, media, nil)

	o := NewOrchestrator(context.Background(), Config{
		Providers:   testProviders(t),
		Registry:    reg,
		Credentials: creds,
		Runner:      run,
		Jobs:        NewRegistry(),
		Media:       media,
	})
	t.Cleanup(o.Close)
	return o, reg, db
}

func newTestTenant(t *testing.T, db *database.Database, name string) *database.Tenant {
	t.Helper()
	tenant := &database.Tenant{Name: name}
	require_.NoError(t, db.InsertTenant(tenant))
	return tenant
}

func waitDone(t *testing.T, job *Job) Snapshot {
	t.Helper()
	select {
	case <-job.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("job did not finish in time")
	}
	return job.Snapshot()
}

func TestAcquireInvalidSource(t *testing.T) {
	assert := assert_.New(t)
	o, _, db := newTestOrchestrator(t, fakeTool(t, succeedBody))
	tenant := newTestTenant(t, db, "alice")

	result, err := o.Acquire(context.Background(), tenant.ID, "gopher://nonsense")
	assert.Nil(result)
	// Rejected synchronously: no job to poll for a source that can never work.
	assert.Equal(fwp.FailureInvalidSource, fwp.ClassOf(err))
}

func TestAcquireRunsJobToCompletion(t *testing.T) {
	assert := assert_.New(t)
	o, reg, db := newTestOrchestrator(t, fakeTool(t, succeedBody))
	tenant := newTestTenant(t, db, "alice")

	events, err := o.Subscribe()
	require_.NoError(t, err)

	result, err := o.Acquire(context.Background(), tenant.ID, "test:finale")
	require_.NoError(t, err)
	assert.False(result.Deduped)
	require_.NotNil(t, result.Job)

	snap := waitDone(t, result.Job)
	assert.Equal(StatusComplete, snap.Status)
	assert.EqualValues(100, snap.Progress)
	assert.Equal("Probed Title", snap.Title)
	assert.NotEmpty(snap.Filename)
	assert.Empty(snap.Err)

	asset, err := reg.FindBySource("test:finale")
	assert.NoError(err)
	if assert.NotNil(asset) {
		assert.Equal(snap.Filename, asset.StorageKey)
		count, err := reg.ReferenceCount(asset.ID)
		assert.NoError(err)
		assert.Equal(1, count)
	}

	var sawStarted, sawCompleted bool
	for done := false; !done; {
		select {
		case ev := <-events.Receive():
			switch ev.(type) {
			case JobStarted:
				sawStarted = true
			case JobCompleted:
				sawCompleted = true
				done = true
			}
		case <-time.After(time.Second):
			done = true
		}
	}
	assert.True(sawStarted)
	assert.True(sawCompleted)
}

func TestAcquireDedupAcrossTenants(t *testing.T) {
	assert := assert_.New(t)
	o, reg, db := newTestOrchestrator(t, fakeTool(t, succeedBody))
	alice := newTestTenant(t, db, "alice")
	bob := newTestTenant(t, db, "bob")

	first, err := o.Acquire(context.Background(), alice.ID, "test:shared")
	require_.NoError(t, err)
	waitDone(t, first.Job)

	// The second tenant's request resolves immediately to the shared
	// asset; no second acquisition runs.
	second, err := o.Acquire(context.Background(), bob.ID, "test:shared")
	assert.NoError(err)
	assert.True(second.Deduped)
	assert.Nil(second.Job)
	require_.NotNil(t, second.Asset)

	count, err := reg.ReferenceCount(second.Asset.ID)
	assert.NoError(err)
	assert.Equal(2, count)
}

func TestLadderFallsBackToNextIdentity(t *testing.T) {
	assert := assert_.New(t)

	// The web identity gets bot-checked; the android client goes through.
	body := `
case "$*" in
*player_client=web_safari*)
	echo "ERROR: [youtube] finale: Sign in to confirm you're not a bot"
	exit 1
	;;
esac
` + succeedBody
	o, _, db := newTestOrchestrator(t, fakeTool(t, body))
	tenant := newTestTenant(t, db, "alice")

	result, err := o.Acquire(context.Background(), tenant.ID, "test:finale")
	require_.NoError(t, err)

	snap := waitDone(t, result.Job)
	assert.Equal(StatusComplete, snap.Status)
	assert.Equal(1, snap.AttemptIndex)
}

func TestLadderExhaustion(t *testing.T) {
	assert := assert_.New(t)

	body := `
echo "ERROR: unable to download video data: HTTP Error 403: Forbidden"
exit 1
`
	o, reg, db := newTestOrchestrator(t, fakeTool(t, body))
	tenant := newTestTenant(t, db, "alice")

	result, err := o.Acquire(context.Background(), tenant.ID, "test:blocked")
	require_.NoError(t, err)

	snap := waitDone(t, result.Job)
	assert.Equal(StatusFailed, snap.Status)
	assert.Contains(snap.Err, "ladder exhausted")

	// Nothing was registered for the failed source.
	asset, err := reg.FindBySource("test:blocked")
	assert.NoError(err)
	assert.Nil(asset)
}

// downloadAttempts counts the fake tool's download invocations (the
// metadata probe writes nothing to the counter).
func downloadAttempts(t *testing.T, counterPath string) int {
	t.Helper()
	data, err := os.ReadFile(counterPath)
	if os.IsNotExist(err) {
		return 0
	}
	require_.NoError(t, err)
	return strings.Count(string(data), "\n")
}

func TestArtifactMissingRetriedOnceThenFatal(t *testing.T) {
	assert := assert_.New(t)

	// The tool reports success but never produces the file. The rung is
	// re-checked once, then the job fails instead of burning the ladder.
	counterPath := filepath.Join(t.TempDir(), "attempts")
	body := fmt.Sprintf(`
echo attempt >> %q
echo "[download] 100%% of 10.00MiB in 00:10"
exit 0
`, counterPath)
	o, _, db := newTestOrchestrator(t, fakeTool(t, body))
	tenant := newTestTenant(t, db, "alice")

	result, err := o.Acquire(context.Background(), tenant.ID, "test:phantom")
	require_.NoError(t, err)

	snap := waitDone(t, result.Job)
	assert.Equal(StatusFailed, snap.Status)
	assert.Contains(snap.Err, "artifact_missing")
	assert.Equal(0, snap.AttemptIndex)
	assert.Equal(2, downloadAttempts(t, counterPath))
}

func TestToolUnavailableRetriedOnceThenFatal(t *testing.T) {
	assert := assert_.New(t)

	// Crashing with no output at all reads as a broken tool install; one
	// re-run, then fatal — later rungs would meet the same binary.
	counterPath := filepath.Join(t.TempDir(), "attempts")
	body := fmt.Sprintf(`
echo attempt >> %q
exit 1
`, counterPath)
	o, _, db := newTestOrchestrator(t, fakeTool(t, body))
	tenant := newTestTenant(t, db, "alice")

	result, err := o.Acquire(context.Background(), tenant.ID, "test:broken")
	require_.NoError(t, err)

	snap := waitDone(t, result.Job)
	assert.Equal(StatusFailed, snap.Status)
	assert.Contains(snap.Err, "tool_unavailable")
	assert.Equal(2, downloadAttempts(t, counterPath))
}

func TestInvalidSourceStopsLadderImmediately(t *testing.T) {
	assert := assert_.New(t)

	// The probe recognises the source but the download reveals it gone;
	// no alternate route or identity can change that verdict.
	body := `
echo "ERROR: [youtube] finale: Video unavailable"
exit 1
`
	o, _, db := newTestOrchestrator(t, fakeTool(t, body))
	tenant := newTestTenant(t, db, "alice")

	result, err := o.Acquire(context.Background(), tenant.ID, "test:gone")
	require_.NoError(t, err)

	snap := waitDone(t, result.Job)
	assert.Equal(StatusFailed, snap.Status)
	assert.Equal(0, snap.AttemptIndex)
	assert.Contains(snap.Err, "Video unavailable")
}
