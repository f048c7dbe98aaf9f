package provision

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

// TestHTTPDownloaderWritesAndHashes streams the body into place.
func TestHTTPDownloaderWritesAndHashes(t *testing.T) {
	body := []byte("checkpoint bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "lipsync-studio" {
			t.Errorf("user agent = %q", r.Header.Get("User-Agent"))
		}
		_, _ = w.Write(body)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "checkpoint", "weights.pth")
	got, err := NewHTTPDownloader().Download(context.Background(), server.URL, dest)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}

	sum := sha256.Sum256(body)
	if got.Bytes != int64(len(body)) || got.SHA256 != hex.EncodeToString(sum[:]) {
		t.Fatalf("download = %+v", got)
	}
	data, err := os.ReadFile(dest)
	if err != nil || string(data) != string(body) {
		t.Fatalf("dest = %q, %v", data, err)
	}
	if _, err := os.Stat(dest + ".download"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
}

// TestHTTPDownloaderRejectsBadStatus keeps the destination untouched.
func TestHTTPDownloaderRejectsBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "weights.pth")
	if _, err := NewHTTPDownloader().Download(context.Background(), server.URL, dest); err == nil {
		t.Fatal("expected error for 404")
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Fatalf("destination created on failure: %v", err)
	}
}
