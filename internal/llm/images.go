package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// maxImageBytes bounds remote image downloads.
var maxImageBytes int64 = 20 << 20

// isRemote reports whether an image reference is a URL rather than a path.
func isRemote(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

// resolveImage turns a relative path into an absolute one; URLs are
// returned unchanged.
func resolveImage(ref string) string {
	if isRemote(ref) {
		return ref
	}
	abs, err := filepath.Abs(ref)
	if err != nil {
		return ref
	}
	return abs
}

// mediaType derives an image MIME type from the file extension.
func mediaType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	}
	return "image/jpeg"
}

// encodeFile reads a local image and returns it base64-encoded.
func encodeFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// dataURI inlines a local image as a data URI.
func dataURI(path string) (string, error) {
	enc, err := encodeFile(path)
	if err != nil {
		return "", err
	}
	return "data:" + mediaType(path) + ";base64," + enc, nil
}

// loadImage returns the raw bytes and MIME type of a local or remote image.
func loadImage(ctx context.Context, client *http.Client, ref string) ([]byte, string, error) {
	ref = resolveImage(ref)
	if !isRemote(ref) {
		data, err := os.ReadFile(ref)
		if err != nil {
			return nil, "", fmt.Errorf("read image: %w", err)
		}
		return data, mediaType(ref), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create image request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch image %s: status %d", ref, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read image body: %w", err)
	}
	if int64(len(data)) > maxImageBytes {
		return nil, "", fmt.Errorf("fetch image %s: larger than %d bytes", ref, maxImageBytes)
	}
	mime := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(mime, "image/") {
		mime = http.DetectContentType(data)
	}
	return data, mime, nil
}
