package youtube

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/kkdai/youtube/v2"

	"github.com/R005ter/fwp"
)

type source struct {
	videoID string
}

func (s *source) URL() string {
	return fmt.Sprintf("https://www.youtube.com/watch?v=%s", s.videoID)
}

func (s *source) String() string {
	return s.URL()
}

// Recon fetches the video title via the YouTube innertube API. Used as a
// best-effort fallback when the extraction tool's own metadata probe
// fails; callers must tolerate errors.
func (s *source) Recon(ctx context.Context) (*fwp.SourceInfo, error) {
	client := youtube.Client{}
	video, err := client.GetVideoContext(ctx, s.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to get video info: %w", err)
	}
	return &fwp.SourceInfo{ID: s.videoID, Title: video.Title}, nil
}

func Match(s string) (fwp.Source, error) {
	if parsedURL, err := url.Parse(s); err != nil {
		return nil, err
	} else if videoID, err := extractVideoID(parsedURL); err != nil {
		return nil, err
	} else {
		return &source{videoID: videoID}, nil
	}
}

func New() fwp.Provider {
	return fwp.Provider{Name: "youtube", Match: Match}
}

// Extract video ID from YouTube URL.
//
// Allowed URL formats:
//		http(s?)://(www|m).youtube.com/(watch|details)?v={VIDEO_ID}
//		http(s?)://(www|m).youtube.com/v/{VIDEO_ID}
//		http(s?)://www.youtube.com/shorts/{VIDEO_ID}
//		http(s?)://youtu.be/{VIDEO_ID}
func extractVideoID(url *url.URL) (string, error) {
	var id string
	switch url.Hostname() {
	case "www.youtube.com", "m.youtube.com", "youtube.com":
		if strings.HasPrefix(url.Path, "/v/") {
			id = strings.SplitN(url.Path, "/", 3)[2]
		} else if strings.HasPrefix(url.Path, "/shorts/") {
			id = strings.SplitN(url.Path, "/", 3)[2]
		} else if url.Path == "/watch" || url.Path == "/details" {
			if url.Query().Has("v") {
				id = url.Query().Get("v")
			} else {
				return "", fmt.Errorf("missing ?v= query parameter")
			}
		}
	case "youtu.be":
		id = strings.Trim(url.Path, "/")
	default:
		return "", fmt.Errorf("unrecognised hostname")
	}
	id = strings.TrimSuffix(id, "/")
	if id == "" {
		return "", fmt.Errorf("could not extract video ID")
	}
	return id, nil
}

func init() {
	fwp.DefaultProviderRegistry.MustAdd(New())
}
