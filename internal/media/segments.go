package media

import (
	"context"
	"errors"
)

// ErrLiveCaptureUnavailable is returned by the stub downloader when no HLS
// capture backend is configured.
var ErrLiveCaptureUnavailable = errors.New("media: live segment capture not configured")

// NoopSegmentDownloader satisfies SegmentDownloader for deployments without
// a live capture backend. Live entries then fail resolution cleanly instead
// of hanging.
type NoopSegmentDownloader struct{}

func (NoopSegmentDownloader) DownloadSegments(ctx context.Context, entryID, flavorID string, startSec, endSec float64) (string, error) {
	return "", ErrLiveCaptureUnavailable
}
