package media

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func testLog() *logrus.Entry {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(log)
}

func entryServer(t *testing.T, entry map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/media/entry" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("entryId"); got != "1_abc" {
			t.Errorf("entryId = %q", got)
		}
		json.NewEncoder(w).Encode(entry)
	}))
}

func TestResolveOnDemand(t *testing.T) {
	srv := entryServer(t, map[string]any{
		"id":       "1_abc",
		"name":     "Security Council 9000th meeting",
		"duration": 5400.0,
		"isLive":   false,
		"flavorAssets": []map[string]any{
			{"id": "flv_video", "fileExt": "mp4", "isOriginal": true},
			{"id": "flv_audio", "fileExt": "mp3", "isOriginal": false},
		},
	})
	defer srv.Close()

	r := NewResolver(srv.URL, "2503451", testLog())
	asset, err := r.Resolve(context.Background(), "1_abc")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if asset.EntryID != "1_abc" || asset.Title != "Security Council 9000th meeting" {
		t.Errorf("asset = %+v", asset)
	}
	if asset.DurationSeconds != 5400 {
		t.Errorf("duration = %v", asset.DurationSeconds)
	}
	if asset.IsLiveStream {
		t.Error("on-demand entry flagged as live")
	}
	if asset.FlavorID != "flv_audio" {
		t.Errorf("flavor = %q, want the mp3 flavor", asset.FlavorID)
	}
	wantURL := srv.URL + "/p/2503451/playManifest/entryId/1_abc/flavorId/flv_audio/format/url/a.mp3"
	if asset.AudioURL != wantURL {
		t.Errorf("audio url = %q\nwant %q", asset.AudioURL, wantURL)
	}
}

func TestResolveFallsBackToOriginalFlavor(t *testing.T) {
	srv := entryServer(t, map[string]any{
		"id":     "1_abc",
		"name":   "General Assembly plenary",
		"isLive": false,
		"flavorAssets": []map[string]any{
			{"id": "flv_low", "fileExt": "mp4", "isOriginal": false},
			{"id": "flv_orig", "fileExt": "mov", "isOriginal": true},
		},
	})
	defer srv.Close()

	r := NewResolver(srv.URL, "2503451", testLog())
	asset, err := r.Resolve(context.Background(), "1_abc")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if asset.FlavorID != "flv_orig" {
		t.Errorf("flavor = %q, want original", asset.FlavorID)
	}
}

func TestResolveLiveEntryHasNoURL(t *testing.T) {
	srv := entryServer(t, map[string]any{
		"id":     "1_abc",
		"name":   "Security Council (live)",
		"isLive": true,
	})
	defer srv.Close()

	r := NewResolver(srv.URL, "2503451", testLog())
	asset, err := r.Resolve(context.Background(), "1_abc")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !asset.IsLiveStream {
		t.Error("live entry not flagged")
	}
	if asset.AudioURL != "" || asset.FlavorID != "" {
		t.Errorf("live entry should carry no flavor, got %+v", asset)
	}
}

func TestResolveUnknownEntry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	r := NewResolver(srv.URL, "2503451", testLog())
	_, err := r.Resolve(context.Background(), "1_missing")
	if !errors.Is(err, ErrNoEntry) {
		t.Fatalf("err = %v, want ErrNoEntry", err)
	}
}

func TestResolveEmptyEntryBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"objectType": "KalturaAPIException"})
	}))
	defer srv.Close()

	r := NewResolver(srv.URL, "2503451", testLog())
	_, err := r.Resolve(context.Background(), "1_abc")
	if !errors.Is(err, ErrNoEntry) {
		t.Fatalf("err = %v, want ErrNoEntry", err)
	}
}

func TestResolveEntryWithoutFlavors(t *testing.T) {
	srv := entryServer(t, map[string]any{
		"id":     "1_abc",
		"name":   "Broken upload",
		"isLive": false,
	})
	defer srv.Close()

	r := NewResolver(srv.URL, "2503451", testLog())
	_, err := r.Resolve(context.Background(), "1_abc")
	if !errors.Is(err, ErrNoEntry) {
		t.Fatalf("err = %v, want ErrNoEntry", err)
	}
	if !strings.Contains(err.Error(), "no audio flavor") {
		t.Errorf("err = %v", err)
	}
}
