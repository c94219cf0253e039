package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"

	"github.com/R005ter/fwp"
)

// Probe asks the tool for the source's metadata without downloading.
// Best-effort: failure means the job proceeds with a placeholder title.
func (r *Runner) Probe(ctx context.Context, sourceURL string) (title string, err error) {
	cmd := exec.CommandContext(ctx, r.ytdlpPath, "--dump-json", "--no-download", "--no-playlist", sourceURL)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", &fwp.AcquireError{
			Class:   Classify(err, stderr.String()),
			Message: "metadata probe failed",
			Output:  stderr.String(),
			Cause:   err,
		}
	}
	var info struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		return "", err
	}
	return info.Title, nil
}
