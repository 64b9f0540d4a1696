package attach

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"notekit/internal/config"
	"notekit/internal/resource"
)

type fakeStore struct {
	dir string

	mu          sync.Mutex
	items       map[string]resource.Resource
	states      map[string]resource.FetchStatus
	loads       map[string]int
	stateReads  int
	created     []string
	createErr   error
	createCalls int
}

func newFakeStore(dir string) *fakeStore {
	return &fakeStore{
		dir:    dir,
		items:  map[string]resource.Resource{},
		states: map[string]resource.FetchStatus{},
		loads:  map[string]int{},
	}
}

func (s *fakeStore) add(title string, status resource.FetchStatus) resource.Resource {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := resource.Resource{ID: resource.NewID(), Title: title, Mime: "image/png", FileExtension: "png"}
	s.items[r.ID] = r
	s.states[r.ID] = status
	return r
}

func (s *fakeStore) Load(_ context.Context, id string) (resource.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads[id]++
	r, ok := s.items[id]
	if !ok {
		return resource.Resource{}, fmt.Errorf("%s: %w", id, resource.ErrNotFound)
	}
	return r, nil
}

func (s *fakeStore) LocalState(_ context.Context, r resource.Resource) (resource.LocalState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateReads++
	return resource.LocalState{ResourceID: r.ID, FetchStatus: s.states[r.ID]}, nil
}

func (s *fakeStore) CreateFromPath(_ context.Context, path string, opts resource.CreateOptions) (resource.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++
	if s.createErr != nil {
		return resource.Resource{}, s.createErr
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return resource.Resource{}, err
	}
	title := opts.Title
	if title == "" {
		title = filepath.Base(path)
	}
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	mime := "application/octet-stream"
	if ext == "png" || strings.HasPrefix(string(data), "\x89PNG") {
		mime = "image/png"
	}
	r := resource.Resource{ID: resource.NewID(), Title: title, Mime: mime, FileExtension: ext, Size: int64(len(data))}
	if err := os.WriteFile(s.FullPath(r), data, 0o644); err != nil {
		return resource.Resource{}, err
	}
	s.items[r.ID] = r
	s.states[r.ID] = resource.StatusReady
	s.created = append(s.created, path)
	return r, nil
}

func (s *fakeStore) FullPath(r resource.Resource) string {
	return filepath.Join(s.dir, r.Filename())
}

type recordingNotifier struct {
	messages []string
}

func (n *recordingNotifier) ShowError(msg string) {
	n.messages = append(n.messages, msg)
}

type stubPicker struct {
	paths []string
	err   error
}

func (p stubPicker) PickFiles(context.Context) ([]string, error) {
	return p.paths, p.err
}

type recordingDownloader struct {
	ids [][]string
}

func (d *recordingDownloader) MarkForDownload(_ context.Context, ids []string) error {
	d.ids = append(d.ids, ids)
	return nil
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := config.Config{
		DataPath:       root,
		ResourceDir:    filepath.Join(root, "resources"),
		TempDir:        filepath.Join(root, "tmp"),
		DownloadMode:   config.DownloadModeAuto,
		MarkupLanguage: "markdown",
	}.WithDefaults()
	if err := os.MkdirAll(cfg.ResourceDir, 0o755); err != nil {
		t.Fatalf("mkdir resources: %v", err)
	}
	return cfg
}

func newTestAttacher(t *testing.T, cfg config.Config, deps Deps) *Attacher {
	t.Helper()
	if deps.Store == nil {
		deps.Store = newFakeStore(cfg.ResourceDir)
	}
	a, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("new attacher: %v", err)
	}
	return a
}

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 40), G: uint8(y * 40), B: 200, A: 255})
		}
	}
	return img
}

func writeTestPNG(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create png: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, testImage()); err != nil {
		t.Fatalf("encode png: %v", err)
	}
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
