package attach

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"notekit/internal/config"
	"notekit/internal/markup"
	"notekit/internal/resource"
)

func TestAttachNothingReturnsNil(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		picker Picker
		paths  []string
	}{
		{"empty list", nil, []string{}},
		{"no picker", nil, nil},
		{"picker cancelled", stubPicker{err: ErrUserCancelled}, nil},
		{"picker empty", stubPicker{}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := newTestAttacher(t, cfg, Deps{Picker: tc.picker})
			res, err := a.Attach(ctx, "body", tc.paths, AttachOptions{Position: AppendPosition})
			if err != nil {
				t.Fatalf("attach: %v", err)
			}
			if res != nil {
				t.Fatalf("expected nil result, got %+v", res)
			}
		})
	}
}

func TestAttachPickerError(t *testing.T) {
	cfg := testConfig(t)
	a := newTestAttacher(t, cfg, Deps{Picker: stubPicker{err: errors.New("dialog broke")}})
	if _, err := a.Attach(context.Background(), "", nil, AttachOptions{}); err == nil {
		t.Fatalf("expected picker error")
	}
}

func TestAttachInsertsInOrder(t *testing.T) {
	cfg := testConfig(t)
	src := t.TempDir()
	first := filepath.Join(src, "first.png")
	second := filepath.Join(src, "notes.txt")
	writeTestPNG(t, first)
	writeTestFile(t, second, "plain text")

	store := newFakeStore(cfg.ResourceDir)
	a := newTestAttacher(t, cfg, Deps{Store: store})
	res, err := a.Attach(context.Background(), "intro", []string{first, second}, AttachOptions{Position: AppendPosition})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if res == nil || len(res.Items) != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	img, doc := res.Items[0], res.Items[1]
	if !strings.HasPrefix(img.Snippet, "![first.png](:/") {
		t.Fatalf("unexpected image snippet %q", img.Snippet)
	}
	if !strings.HasPrefix(doc.Snippet, "[notes.txt](:/") {
		t.Fatalf("unexpected file snippet %q", doc.Snippet)
	}
	want := "intro\n\n" + img.Snippet + "\n\n" + doc.Snippet
	if res.Body != want {
		t.Fatalf("expected %q, got %q", want, res.Body)
	}
	ids := markup.LinkedResourceIDs(res.Body)
	if len(ids) != 2 || ids[0] != img.Resource.ID || ids[1] != doc.Resource.ID {
		t.Fatalf("unexpected ids %v", ids)
	}
}

func TestAttachAtPositionKeepsFollowingText(t *testing.T) {
	cfg := testConfig(t)
	src := t.TempDir()
	a1 := filepath.Join(src, "a.txt")
	a2 := filepath.Join(src, "b.txt")
	writeTestFile(t, a1, "a")
	writeTestFile(t, a2, "b")

	a := newTestAttacher(t, cfg, Deps{})
	body := "top\n\nbottom"
	res, err := a.Attach(context.Background(), body, []string{a1, a2}, AttachOptions{Position: len("top")})
	if err != nil || res == nil {
		t.Fatalf("attach: %v %v", res, err)
	}
	want := "top\n\n" + res.Items[0].Snippet + "\n\n" + res.Items[1].Snippet + "\n\nbottom"
	if res.Body != want {
		t.Fatalf("expected %q, got %q", want, res.Body)
	}
}

func TestAttachHTMLMarkup(t *testing.T) {
	cfg := testConfig(t)
	cfg.MarkupLanguage = "html"
	path := filepath.Join(t.TempDir(), "pic.png")
	writeTestPNG(t, path)

	a := newTestAttacher(t, cfg, Deps{})
	res, err := a.Attach(context.Background(), "", []string{path}, AttachOptions{Position: AppendPosition})
	if err != nil || res == nil {
		t.Fatalf("attach: %v %v", res, err)
	}
	if !strings.HasPrefix(res.Body, `<img src=":/`) {
		t.Fatalf("expected html snippet, got %q", res.Body)
	}
}

func TestAttachSkipsFailures(t *testing.T) {
	cfg := testConfig(t)
	good := filepath.Join(t.TempDir(), "good.txt")
	writeTestFile(t, good, "ok")
	missing := filepath.Join(t.TempDir(), "missing.txt")

	notifier := &recordingNotifier{}
	a := newTestAttacher(t, cfg, Deps{Notifier: notifier})
	res, err := a.Attach(context.Background(), "", []string{missing, good}, AttachOptions{Position: AppendPosition})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if res == nil || len(res.Items) != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if !res.Items[0].Skipped() || !errors.Is(res.Items[0].Err, ErrFileRead) {
		t.Fatalf("expected skipped read failure, got %+v", res.Items[0])
	}
	if res.Items[1].Skipped() || res.Attached() != 1 {
		t.Fatalf("expected second item attached, got %+v", res.Items[1])
	}
	if len(notifier.messages) != 1 || !strings.Contains(notifier.messages[0], "missing.txt") {
		t.Fatalf("unexpected notifications %v", notifier.messages)
	}
}

func TestAttachAllFailedIsReported(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "a.txt")
	writeTestFile(t, path, "a")

	store := newFakeStore(cfg.ResourceDir)
	store.createErr = errors.New("disk full")
	notifier := &recordingNotifier{}
	a := newTestAttacher(t, cfg, Deps{Store: store, Notifier: notifier})
	res, err := a.Attach(context.Background(), "body", []string{path}, AttachOptions{Position: AppendPosition})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if res == nil {
		t.Fatalf("a failed batch must not look like a cancelled one")
	}
	if res.Attached() != 0 || len(res.Items) != 1 || !errors.Is(res.Items[0].Err, ErrAttachmentCreate) {
		t.Fatalf("expected one skipped item, got %+v", res.Items)
	}
	if res.Body != "body" {
		t.Fatalf("body must be unchanged, got %q", res.Body)
	}
	if len(notifier.messages) != 1 {
		t.Fatalf("expected a notification, got %v", notifier.messages)
	}
}

type cancellingConfirmer struct {
	calls int
}

func (c *cancellingConfirmer) ConfirmResize(context.Context, string) (bool, error) {
	c.calls++
	return false, ErrUserCancelled
}

func TestAttachCancelledMidBatch(t *testing.T) {
	cfg := testConfig(t)
	cfg.ImageResize = true
	dir := t.TempDir()
	text := filepath.Join(dir, "a.txt")
	pic := filepath.Join(dir, "b.png")
	later := filepath.Join(dir, "c.txt")
	writeTestFile(t, text, "a")
	writeTestPNG(t, pic)
	writeTestFile(t, later, "c")

	store := newFakeStore(cfg.ResourceDir)
	confirmer := &cancellingConfirmer{}
	a := newTestAttacher(t, cfg, Deps{Store: store, Resize: confirmer})
	res, err := a.Attach(context.Background(), "", []string{text, pic, later}, AttachOptions{Position: AppendPosition})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if res != nil {
		t.Fatalf("expected nil after cancel, got %+v", res)
	}
	if confirmer.calls != 1 {
		t.Fatalf("expected one confirmation, got %d", confirmer.calls)
	}
	if len(store.created) != 1 || store.created[0] != text {
		t.Fatalf("expected only the first file stored, got %v", store.created)
	}
}

func TestAttachFileURL(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "my report.pdf")
	writeTestFile(t, path, "%PDF-1.4")

	store := newFakeStore(cfg.ResourceDir)
	a := newTestAttacher(t, cfg, Deps{Store: store})
	res, err := a.Attach(context.Background(), "", []string{path}, AttachOptions{CreateFileURL: true, Position: AppendPosition})
	if err != nil || res == nil {
		t.Fatalf("attach: %v %v", res, err)
	}
	if store.createCalls != 0 {
		t.Fatalf("file url must not create resources")
	}
	if !strings.Contains(res.Body, "(file://") || !strings.Contains(res.Body, "my%20report.pdf") {
		t.Fatalf("unexpected body %q", res.Body)
	}
}

func TestHandleDownloadMode(t *testing.T) {
	r := resource.Resource{ID: resource.NewID()}
	body := "[x](:/" + r.ID + ")"
	ctx := context.Background()

	cfg := testConfig(t)
	dl := &recordingDownloader{}
	a := newTestAttacher(t, cfg, Deps{Downloader: dl})
	if err := a.HandleDownloadMode(ctx, body); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if err := a.HandleDownloadMode(ctx, ""); err != nil {
		t.Fatalf("handle empty: %v", err)
	}
	if len(dl.ids) != 1 || len(dl.ids[0]) != 1 || dl.ids[0][0] != r.ID {
		t.Fatalf("unexpected marks %v", dl.ids)
	}

	cfg.DownloadMode = config.DownloadModeManual
	manual := &recordingDownloader{}
	a = newTestAttacher(t, cfg, Deps{Downloader: manual})
	if err := a.HandleDownloadMode(ctx, body); err != nil {
		t.Fatalf("handle manual: %v", err)
	}
	if len(manual.ids) != 0 {
		t.Fatalf("manual mode must not mark, got %v", manual.ids)
	}
}

func TestAttachDeduplicatedUsesPickedName(t *testing.T) {
	cfg := testConfig(t)
	dir := t.TempDir()
	first := filepath.Join(dir, "a.png")
	second := filepath.Join(dir, "b.png")
	writeTestPNG(t, first)
	writeTestPNG(t, second)

	store, err := resource.OpenConfigured(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	a := newTestAttacher(t, cfg, Deps{Store: store})
	res, err := a.Attach(context.Background(), "", []string{first, second}, AttachOptions{Position: AppendPosition})
	if err != nil || res == nil || res.Attached() != 2 {
		t.Fatalf("attach: %+v %v", res, err)
	}
	if res.Items[0].Resource.ID != res.Items[1].Resource.ID {
		t.Fatalf("expected identical content to share a resource")
	}
	if !strings.HasPrefix(res.Items[0].Snippet, "![a.png](:/") || !strings.HasPrefix(res.Items[1].Snippet, "![b.png](:/") {
		t.Fatalf("unexpected snippets %q %q", res.Items[0].Snippet, res.Items[1].Snippet)
	}
}
