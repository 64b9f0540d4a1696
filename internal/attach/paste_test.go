package attach

import (
	"bytes"
	"context"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"notekit/internal/config"
	"notekit/internal/markup"
	"notekit/internal/resource"
	storagefs "notekit/internal/storage/fs"
)

func newImageServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, testImage()); err != nil {
		t.Fatalf("encode: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		atomic.AddInt32(hits, 1)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(buf.Bytes())
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPasteDuplicateRemoteFetchedOnce(t *testing.T) {
	for _, tc := range []struct {
		name  string
		conv  Converters
		path  string
		title string
	}{
		{"plain", Converters{}, "/pics/cat.png", "cat.png"},
		{"markdown round trip", MarkdownConverters(), "/pics/cat.png", "cat.png"},
		{"markdown round trip with space", MarkdownConverters(), "/pics/a b.png", "a b.png"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var hits int32
			srv := newImageServer(t, &hits)
			cfg := testConfig(t)
			store := newFakeStore(cfg.ResourceDir)
			a := newTestAttacher(t, cfg, Deps{Store: store})

			url := srv.URL + tc.path
			in := `<p>one <img src="` + url + `"> two <img src="` + url + `"></p>`
			out, err := a.ProcessPastedHTML(context.Background(), in, tc.conv)
			if err != nil {
				t.Fatalf("paste: %v", err)
			}
			if hits != 1 || store.createCalls != 1 {
				t.Fatalf("expected one fetch and create, got hits=%d creates=%d", hits, store.createCalls)
			}
			if strings.Contains(out, "![") {
				t.Fatalf("image left as markup text: %s", out)
			}
			srcs, err := markup.ImageURLs(out)
			if err != nil {
				t.Fatalf("scan: %v", err)
			}
			if len(srcs) != 2 || srcs[0] != srcs[1] {
				t.Fatalf("expected two identical sources, got %v (%s)", srcs, out)
			}
			p, err := storagefs.FileURIToPath(srcs[0])
			if err != nil || !storagefs.IsWithinDir(cfg.ResourceDir, p) {
				t.Fatalf("expected canonical storage url, got %q", srcs[0])
			}
			for _, it := range store.items {
				if it.Title != tc.title {
					t.Fatalf("expected title from url, got %q", it.Title)
				}
			}
			entries, _ := os.ReadDir(cfg.TempDir)
			if len(entries) != 0 {
				t.Fatalf("temp download left behind: %v", entries)
			}
		})
	}
}

func TestPasteBrokenRemoteKeptValidLocalRewritten(t *testing.T) {
	var hits int32
	srv := newImageServer(t, &hits)
	cfg := testConfig(t)
	store := newFakeStore(cfg.ResourceDir)
	a := newTestAttacher(t, cfg, Deps{Store: store})

	local := filepath.Join(t.TempDir(), "local.png")
	writeTestPNG(t, local)
	broken := srv.URL + "/missing.png"
	in := `<div><img src="` + broken + `"><img src="` + storagefs.PathToFileURI(local) + `"></div>`

	out, err := a.ProcessPastedHTML(context.Background(), in, Converters{})
	if err != nil {
		t.Fatalf("paste: %v", err)
	}
	srcs, _ := markup.ImageURLs(out)
	if len(srcs) != 2 {
		t.Fatalf("expected both images kept, got %v (%s)", srcs, out)
	}
	if srcs[0] != broken {
		t.Fatalf("broken image should keep its source, got %q", srcs[0])
	}
	p, err := storagefs.FileURIToPath(srcs[1])
	if err != nil || !storagefs.IsWithinDir(cfg.ResourceDir, p) {
		t.Fatalf("local image should be rewritten into storage, got %q", srcs[1])
	}
	if len(store.created) != 1 || store.created[0] != local {
		t.Fatalf("unexpected created %v", store.created)
	}
}

func TestPasteKeepsStoredAndDataImages(t *testing.T) {
	cfg := testConfig(t)
	store := newFakeStore(cfg.ResourceDir)
	a := newTestAttacher(t, cfg, Deps{Store: store})

	stored := filepath.Join(cfg.ResourceDir, "0123456789abcdef0123456789abcdef.png")
	writeTestPNG(t, stored)
	storedURL := storagefs.PathToFileURI(stored)
	data := "data:image/png;base64,iVBORw0KGgo="
	in := `<img src="` + storedURL + `"><img src="` + data + `">`

	out, err := a.ProcessPastedHTML(context.Background(), in, Converters{})
	if err != nil {
		t.Fatalf("paste: %v", err)
	}
	if store.createCalls != 0 {
		t.Fatalf("no resources should be created, got %d", store.createCalls)
	}
	srcs, _ := markup.ImageURLs(out)
	if len(srcs) != 2 || srcs[0] != storedURL || srcs[1] != data {
		t.Fatalf("unexpected sources %v (%s)", srcs, out)
	}
}

func TestPasteMissingLocalFileIsDropped(t *testing.T) {
	cfg := testConfig(t)
	store := newFakeStore(cfg.ResourceDir)
	a := newTestAttacher(t, cfg, Deps{Store: store})

	gone := storagefs.PathToFileURI(filepath.Join(t.TempDir(), "gone.png"))
	out, err := a.ProcessPastedHTML(context.Background(), `<p>x<img src="`+gone+`"></p>`, Converters{})
	if err != nil {
		t.Fatalf("paste: %v", err)
	}
	if strings.Contains(out, "gone.png") {
		t.Fatalf("file outside storage must be sanitized away, got %s", out)
	}
	if store.createCalls != 0 {
		t.Fatalf("unexpected create")
	}
}

func TestPasteNormalizesAndSanitizes(t *testing.T) {
	cfg := testConfig(t)
	a := newTestAttacher(t, cfg, Deps{})

	in := "<html><body><p>a\u00a0b<script>alert(1)</script></p><a href=\"https://example.com\">x</a></body></html>"
	out, err := a.ProcessPastedHTML(context.Background(), in, Converters{})
	if err != nil {
		t.Fatalf("paste: %v", err)
	}
	if strings.Contains(out, "\u00a0") || !strings.Contains(out, "a b") {
		t.Fatalf("expected spaces normalized, got %q", out)
	}
	if strings.Contains(out, "script") || strings.Contains(out, "<body") {
		t.Fatalf("expected sanitized body html, got %q", out)
	}
	again := markup.Sanitize(out, markup.SanitizeOptions{AllowedFilePrefixes: []string{cfg.ResourceDir}})
	if again != out {
		t.Fatalf("sanitize not idempotent:\n%s\n%s", out, again)
	}
}

func TestPasteConvertersMustBePaired(t *testing.T) {
	cfg := testConfig(t)
	a := newTestAttacher(t, cfg, Deps{})
	_, err := a.ProcessPastedHTML(context.Background(), "<p>x</p>", Converters{HTMLToMarkup: markup.HTMLToMarkdown})
	if err == nil {
		t.Fatalf("expected error for unpaired converters")
	}
}

func TestLookupSourceEscaping(t *testing.T) {
	refs := map[string]string{
		"https://example.com/a b.png":       "file:///store/1.png",
		"https://example.com/q?x=1&y=2":     "file:///store/2.png",
		"https://example.com/%E2%9C%93.png": "file:///store/3.png",
	}
	cases := map[string]string{
		"https://example.com/a%20b.png":     "file:///store/1.png",
		"https://example.com/q?x=1&amp;y=2": "file:///store/2.png",
		"https://example.com/%E2%9C%93.png": "file:///store/3.png",
	}
	for in, want := range cases {
		if got, ok := lookupSource(refs, in); !ok || got != want {
			t.Fatalf("lookup %q: got %q %v", in, got, ok)
		}
	}
	if _, ok := lookupSource(refs, "https://other"); ok {
		t.Fatalf("unexpected match")
	}
}

func TestPasteWithRelativeResourceDir(t *testing.T) {
	local := filepath.Join(t.TempDir(), "pic.png")
	writeTestPNG(t, local)
	root := t.TempDir()
	t.Chdir(root)

	cfg := config.Config{DataPath: "data", ResourceDir: "res", TempDir: "tmp", MarkupLanguage: "markdown"}
	ctx := context.Background()
	store, err := resource.OpenConfigured(ctx, cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	a := newTestAttacher(t, cfg, Deps{Store: store})

	out, err := a.ProcessPastedHTML(ctx, `<p>x <img src="`+storagefs.PathToFileURI(local)+`"></p>`, Converters{})
	if err != nil {
		t.Fatalf("paste: %v", err)
	}
	srcs, _ := markup.ImageURLs(out)
	if len(srcs) != 1 {
		t.Fatalf("stored image was dropped: %q", out)
	}
	p, err := storagefs.FileURIToPath(srcs[0])
	if err != nil || !storagefs.IsWithinDir(filepath.Join(root, "res"), p) {
		t.Fatalf("expected url under %s, got %q", filepath.Join(root, "res"), srcs[0])
	}
	if _, err := os.Stat(p); err != nil {
		t.Fatalf("payload missing: %v", err)
	}

	again, err := a.ProcessPastedHTML(ctx, out, Converters{})
	if err != nil {
		t.Fatalf("paste again: %v", err)
	}
	if again != out {
		t.Fatalf("stored image should map to itself:\n%s\n%s", out, again)
	}
	entries, _ := os.ReadDir(filepath.Join(root, "res"))
	if len(entries) != 1 {
		t.Fatalf("expected one payload, got %d", len(entries))
	}
}
