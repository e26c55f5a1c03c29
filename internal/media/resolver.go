package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrNoEntry is returned when the media platform has no entry for the
// requested video id.
var ErrNoEntry = errors.New("media: no matching entry")

// Asset is the resolved audio source for a video.
type Asset struct {
	EntryID         string
	AudioURL        string
	FlavorID        string
	IsLiveStream    bool
	Title           string
	DurationSeconds float64
}

// SegmentDownloader captures a time range of a live/in-progress entry and
// returns an audio URL the transcription service can ingest. On-demand
// assets never go through this path.
type SegmentDownloader interface {
	DownloadSegments(ctx context.Context, entryID, flavorID string, startSec, endSec float64) (string, error)
}

// Resolver looks up downloadable audio flavors in the media platform
// catalog.
type Resolver struct {
	baseURL   string
	partnerID string
	client    *http.Client
	log       *logrus.Entry
}

func NewResolver(baseURL, partnerID string, log *logrus.Entry) *Resolver {
	return &Resolver{
		baseURL:   baseURL,
		partnerID: partnerID,
		client:    &http.Client{Timeout: 30 * time.Second},
		log:       log,
	}
}

type entryResponse struct {
	ObjectType string  `json:"objectType"`
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Duration   float64 `json:"duration"`
	Status     int     `json:"status"`
	IsLive     bool    `json:"isLive"`
	Flavors    []struct {
		ID          string `json:"id"`
		FileExt     string `json:"fileExt"`
		IsOriginal  bool   `json:"isOriginal"`
		ContainerID string `json:"containerFormat"`
	} `json:"flavorAssets"`
}

// Resolve finds the entry for videoID and picks an audio flavor. For
// on-demand entries the returned AudioURL is directly downloadable; live
// entries set IsLiveStream and must be captured through a
// SegmentDownloader.
func (r *Resolver) Resolve(ctx context.Context, videoID string) (*Asset, error) {
	q := url.Values{}
	q.Set("entryId", videoID)
	q.Set("partnerId", r.partnerID)
	endpoint := fmt.Sprintf("%s/api/media/entry?%s", r.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("media lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNoEntry, videoID)
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("media lookup http %d: %s", resp.StatusCode, body)
	}

	var entry entryResponse
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	if entry.ID == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoEntry, videoID)
	}

	asset := &Asset{
		EntryID:         entry.ID,
		Title:           entry.Name,
		DurationSeconds: entry.Duration,
		IsLiveStream:    entry.IsLive,
	}

	if entry.IsLive {
		// Live entries have no downloadable flavor yet; the caller routes
		// through the segment downloader.
		r.log.WithField("entry_id", entry.ID).Info("resolved live entry")
		return asset, nil
	}

	flavor := pickAudioFlavor(entry)
	if flavor == "" {
		return nil, fmt.Errorf("%w: entry %s has no audio flavor", ErrNoEntry, videoID)
	}
	asset.FlavorID = flavor
	asset.AudioURL = fmt.Sprintf("%s/p/%s/playManifest/entryId/%s/flavorId/%s/format/url/a.mp3",
		r.baseURL, r.partnerID, entry.ID, flavor)

	r.log.WithFields(logrus.Fields{
		"entry_id": entry.ID,
		"flavor":   flavor,
	}).Info("resolved on-demand entry")
	return asset, nil
}

func pickAudioFlavor(entry entryResponse) string {
	// Prefer a dedicated audio container, fall back to the original flavor.
	for _, f := range entry.Flavors {
		if f.FileExt == "mp3" || f.FileExt == "m4a" {
			return f.ID
		}
	}
	for _, f := range entry.Flavors {
		if f.IsOriginal {
			return f.ID
		}
	}
	if len(entry.Flavors) > 0 {
		return entry.Flavors[0].ID
	}
	return ""
}
