// Package runner drives the external extraction tool (yt-dlp) for a
// single acquisition attempt: it builds the invocation for a concrete
// egress strategy, streams the tool's output for progress markers, and
// classifies the terminal outcome.
package runner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/R005ter/fwp"
	"github.com/R005ter/fwp/internal/credential"
	"github.com/R005ter/fwp/internal/egress"
)

// outputTailLines bounds how much tool output is retained for failure
// classification and error reporting.
const outputTailLines = 200

// Runner invokes the extraction tool. The zero value is not usable;
// construct with New so the tool paths are resolved once.
type Runner struct {
	ytdlpPath  string
	ffmpegPath string
	log        *zap.SugaredLogger
}

// New locates yt-dlp (required) and ffmpeg (optional; without it the
// tool cannot merge separate audio and video streams, matching the
// upstream tool's own degraded behaviour).
func New() (*Runner, error) {
	log := zap.S().Named("runner")
	ytdlp, err := exec.LookPath("yt-dlp")
	if err != nil {
		return nil, &fwp.AcquireError{Class: fwp.FailureToolUnavailable, Message: "yt-dlp not found in PATH", Cause: err}
	}
	ffmpeg, err := exec.LookPath("ffmpeg")
	if err != nil {
		log.Warn("ffmpeg not found in PATH, merged output may lack audio")
		ffmpeg = ""
	}
	return &Runner{ytdlpPath: ytdlp, ffmpegPath: ffmpeg, log: log}, nil
}

// NewWithPaths builds a Runner with explicit tool paths; used by tests
// to substitute a scripted fake for the real tool.
func NewWithPaths(ytdlpPath, ffmpegPath string) *Runner {
	return &Runner{ytdlpPath: ytdlpPath, ffmpegPath: ffmpegPath, log: zap.S().Named("runner")}
}

// Version returns the tool's reported version, or an error when the
// tool is unavailable. Used by the health endpoint.
func (r *Runner) Version(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, r.ytdlpPath, "--version").Output()
	if err != nil {
		return "", &fwp.AcquireError{Class: fwp.FailureToolUnavailable, Message: "yt-dlp --version failed", Cause: err}
	}
	return strings.TrimSpace(string(out)), nil
}

// RunOptions configures a single attempt.
type RunOptions struct {
	// OutputPath is where the merged artifact must appear on success.
	OutputPath string
	// CookieJar, when non-empty and the attempt wants a credential, is
	// materialized to a temp file for the invocation.
	CookieJar []byte
	// OnProgress receives percentages as the tool reports them. Called
	// from the runner's goroutine; must not block.
	OnProgress func(percent float64)
}

// Run executes one acquisition attempt to completion. A nil return
// means the tool exited zero and the output artifact exists; any other
// outcome is returned as a classified *fwp.AcquireError.
func (r *Runner) Run(ctx context.Context, sourceURL string, attempt egress.Attempt, opts RunOptions) error {
	args, cleanup, err := r.buildArgs(sourceURL, attempt, opts)
	if err != nil {
		return err
	}
	defer cleanup()

	cmd := exec.CommandContext(ctx, r.ytdlpPath, args...)
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	r.log.Infow("starting attempt", "strategy", attempt.String(), "source", sourceURL)

	if err := cmd.Start(); err != nil {
		pw.Close()
		return &fwp.AcquireError{Class: fwp.FailureToolUnavailable, Message: "failed to start yt-dlp", Cause: err}
	}

	tailDone := make(chan []string, 1)
	go func() {
		tailDone <- r.scanOutput(pr, opts.OnProgress)
	}()

	waitErr := cmd.Wait()
	pw.Close()
	tail := <-tailDone
	output := strings.Join(tail, "\n")

	if waitErr != nil {
		class := Classify(waitErr, output)
		return &fwp.AcquireError{
			Class:   class,
			Message: fmt.Sprintf("attempt %s failed: %s", attempt, lastLine(tail)),
			Output:  output,
			Cause:   waitErr,
		}
	}

	// The tool's exit code and the artifact's existence disagree often
	// enough that the discrepancy is modeled explicitly.
	if _, err := os.Stat(opts.OutputPath); err != nil {
		return &fwp.AcquireError{
			Class:   fwp.FailureArtifactMissing,
			Message: fmt.Sprintf("merged file not found at %s after reported success", opts.OutputPath),
		}
	}
	return nil
}

// scanOutput consumes the tool's combined output line by line, pushing
// progress markers through the callback and retaining a tail for
// classification.
func (r *Runner) scanOutput(reader io.Reader, onProgress func(float64)) []string {
	var tail []string
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		tail = append(tail, line)
		if len(tail) > outputTailLines {
			tail = tail[1:]
		}
		if onProgress == nil {
			continue
		}
		if percent, ok := ParseProgress(line); ok {
			onProgress(percent)
		}
	}
	// A line over the scanner's limit aborts the scan early; keep
	// draining so the tool is never blocked writing output nobody reads,
	// which would leave cmd.Wait stuck and the job running forever.
	_, _ = io.Copy(io.Discard, reader)
	return tail
}

func (r *Runner) buildArgs(sourceURL string, attempt egress.Attempt, opts RunOptions) ([]string, func(), error) {
	cleanup := func() {}
	var args []string
	if r.ffmpegPath != "" {
		args = append(args, "--ffmpeg-location", r.ffmpegPath)
	}
	args = append(args,
		"-f", "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best",
		"--merge-output-format", "mp4",
		"-o", opts.OutputPath,
		"--no-playlist",
		"--progress",
		"--newline",
	)
	if proxy := attempt.Route.ProxyURL(); proxy != "" {
		args = append(args, "--proxy", proxy)
	}
	if attempt.Identity.PlayerClient != "" {
		args = append(args, "--extractor-args", "youtube:player_client="+attempt.Identity.PlayerClient)
	}
	if attempt.Identity.UserAgent != "" {
		args = append(args, "--user-agent", attempt.Identity.UserAgent)
	}
	if attempt.UseCredential && len(opts.CookieJar) > 0 {
		jarPath, removeJar, err := credential.WriteTemp(opts.CookieJar)
		if err != nil {
			return nil, cleanup, fmt.Errorf("failed to write cookie jar: %w", err)
		}
		cleanup = removeJar
		args = append(args, "--cookies", jarPath)
	}
	args = append(args, sourceURL)
	return args, cleanup, nil
}

func lastLine(tail []string) string {
	for i := len(tail) - 1; i >= 0; i-- {
		if strings.HasPrefix(tail[i], "ERROR") || strings.Contains(tail[i], "error") {
			return tail[i]
		}
	}
	if len(tail) > 0 {
		return tail[len(tail)-1]
	}
	return "no output"
}
