package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pavelanni/mathbench/internal/catalog"
	"github.com/pavelanni/mathbench/internal/model"
)

// writeTestImage creates a small file with the given extension.
func writeTestImage(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("\x89PNG\r\n\x1a\nfake"), 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	return path
}

func TestNewSelectsAdapterByKind(t *testing.T) {
	for _, desc := range catalog.Models() {
		t.Run(desc.Name, func(t *testing.T) {
			b, err := New(desc, Credentials{})
			if err != nil {
				t.Fatalf("New(%s): %v", desc.Name, err)
			}
			if b.Kind() != desc.Kind {
				t.Errorf("kind = %s, want %s", b.Kind(), desc.Kind)
			}
			if b.Name() != desc.Name {
				t.Errorf("name = %s, want %s", b.Name(), desc.Name)
			}
		})
	}
}

func TestNewRejectsUnknown(t *testing.T) {
	tests := []struct {
		name string
		desc model.ModelDescriptor
		want error
	}{
		{"openai", model.ModelDescriptor{Name: "gpt-2", Kind: model.KindHostedChat}, ErrUnsupportedModel},
		{"anthropic", model.ModelDescriptor{Name: "claude-1", Kind: model.KindHostedVisionChat}, ErrUnsupportedModel},
		{"gemini", model.ModelDescriptor{Name: "gemini-1.0", Kind: model.KindHostedGenerative}, ErrUnsupportedModel},
		{"local", model.ModelDescriptor{Name: "gpt-4o", Kind: model.KindLocalVisionInstruct}, ErrUnsupportedModel},
		{"kind", model.ModelDescriptor{Name: "gpt-4o", Kind: "carrier_pigeon"}, ErrUnknownBackend},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.desc, Credentials{})
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestMediaType(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"a.png", "image/png"},
		{"a.PNG", "image/png"},
		{"a.gif", "image/gif"},
		{"a.webp", "image/webp"},
		{"a.jpg", "image/jpeg"},
		{"a.bmp", "image/jpeg"},
		{"noext", "image/jpeg"},
	}
	for _, tt := range tests {
		if got := mediaType(tt.path); got != tt.want {
			t.Errorf("mediaType(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestResolveImage(t *testing.T) {
	if got := resolveImage("https://example.com/q.png"); got != "https://example.com/q.png" {
		t.Errorf("URL should pass through, got %q", got)
	}
	if got := resolveImage("pics/q.png"); !filepath.IsAbs(got) {
		t.Errorf("relative path should become absolute, got %q", got)
	}
}

func TestLoadImageSizeLimit(t *testing.T) {
	old := maxImageBytes
	maxImageBytes = 16
	t.Cleanup(func() { maxImageBytes = old })

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"under limit", "0123456789", false},
		{"at limit", "0123456789abcdef", false},
		{"over limit", "0123456789abcdefX", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "image/png")
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			data, mime, err := loadImage(context.Background(), srv.Client(), srv.URL+"/q.png")
			if tt.wantErr {
				if err == nil || !strings.Contains(err.Error(), "larger than") {
					t.Errorf("expected size error, got %v (%d bytes)", err, len(data))
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if string(data) != tt.body || mime != "image/png" {
				t.Errorf("got %q %q", data, mime)
			}
		})
	}
}

func TestBackendErrorUnwrap(t *testing.T) {
	inner := errors.New("quota exceeded")
	err := error(&BackendError{Backend: "openai", Model: "gpt-4o", Err: inner})
	if !errors.Is(err, inner) {
		t.Error("BackendError should unwrap to the upstream error")
	}
	var be *BackendError
	if !errors.As(err, &be) || be.Backend != "openai" {
		t.Error("errors.As should find BackendError")
	}
}
