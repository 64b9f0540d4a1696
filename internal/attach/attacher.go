package attach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"notekit/internal/config"
	"notekit/internal/markup"
	"notekit/internal/resource"
)

// AppendPosition inserts after the existing body.
const AppendPosition = -1

// Deps are the collaborators of an Attacher. Store is required; the rest
// fall back to defaults when nil.
type Deps struct {
	Store       Store
	Downloader  Downloader
	Fetcher     Fetcher
	ImageWriter ImageWriter
	Picker      Picker
	Resize      ResizeConfirmer
	Notifier    Notifier
}

type Attacher struct {
	cfg        config.Config
	store      Store
	downloader Downloader
	fetcher    Fetcher
	images     ImageWriter
	picker     Picker
	resize     ResizeConfirmer
	notifier   Notifier
}

func New(cfg config.Config, deps Deps) (*Attacher, error) {
	if deps.Store == nil {
		return nil, errors.New("attach: store is required")
	}
	a := &Attacher{
		cfg:        cfg.WithDefaults(),
		store:      deps.Store,
		downloader: deps.Downloader,
		fetcher:    deps.Fetcher,
		images:     deps.ImageWriter,
		picker:     deps.Picker,
		resize:     deps.Resize,
		notifier:   deps.Notifier,
	}
	if a.fetcher == nil {
		a.fetcher = NewHTTPFetcher(a.cfg.FetchTimeout)
	}
	if a.images == nil {
		a.images = resource.ImageFileWriter{}
	}
	if a.notifier == nil {
		a.notifier = LogNotifier{}
	}
	return a, nil
}

type AttachOptions struct {
	// CreateFileURL links to the file in place instead of storing a copy.
	CreateFileURL bool
	// Position is a byte offset into the body, or AppendPosition.
	Position int
	Markup   markup.Language
}

type AttachResult struct {
	Body  string
	Items []ItemResult
}

type ItemResult struct {
	Path     string
	Snippet  string
	Resource *resource.Resource
	Err      error
}

func (r ItemResult) Skipped() bool {
	return r.Err != nil
}

// Attached counts the items that made it into the body.
func (r *AttachResult) Attached() int {
	n := 0
	for _, item := range r.Items {
		if !item.Skipped() {
			n++
		}
	}
	return n
}

// Insertion is the outcome of placing a single file into a body.
type Insertion struct {
	Body     string
	Next     int
	Snippet  string
	Resource *resource.Resource
}

// Attach stores each path as a resource and inserts a reference to it into
// body. When paths is nil the Picker is asked. A nil result means there was
// nothing to do: no files were given or the user cancelled. Files that fail
// are reported as skipped items and the rest of the batch continues.
func (a *Attacher) Attach(ctx context.Context, body string, paths []string, opts AttachOptions) (*AttachResult, error) {
	if paths == nil {
		if a.picker == nil {
			return nil, nil
		}
		picked, err := a.picker.PickFiles(ctx)
		if errors.Is(err, ErrUserCancelled) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("pick files: %w", err)
		}
		paths = picked
	}
	if len(paths) == 0 {
		return nil, nil
	}
	opts.Markup = a.language(opts.Markup)

	pos := opts.Position
	if pos < 0 || pos > len(body) {
		pos = len(body)
	}
	result := &AttachResult{Body: body}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ins, err := a.InsertFile(ctx, result.Body, pos, path, opts)
		if errors.Is(err, ErrUserCancelled) {
			slog.Info("attach cancelled", "path", path)
			return nil, nil
		}
		if err != nil {
			slog.Warn("attach file", "path", path, "err", err)
			a.notifier.ShowError(err.Error())
			result.Items = append(result.Items, ItemResult{Path: path, Err: err})
			continue
		}
		result.Body = ins.Body
		pos = ins.Next
		result.Items = append(result.Items, ItemResult{Path: path, Snippet: ins.Snippet, Resource: ins.Resource})
	}
	return result, nil
}

// InsertFile stores path (unless a file URL is requested) and inserts its
// snippet into body at pos.
func (a *Attacher) InsertFile(ctx context.Context, body string, pos int, path string, opts AttachOptions) (Insertion, error) {
	lang := a.language(opts.Markup)
	info, err := os.Stat(path)
	if err != nil {
		return Insertion{}, fmt.Errorf("%w: %s: %v", ErrFileRead, path, err)
	}
	if !info.Mode().IsRegular() {
		return Insertion{}, fmt.Errorf("%w: %s is not a regular file", ErrFileRead, path)
	}

	if opts.CreateFileURL {
		abs, err := filepath.Abs(path)
		if err != nil {
			return Insertion{}, fmt.Errorf("%w: %s: %v", ErrFileRead, path, err)
		}
		snippet := markup.FileURLSnippet(lang, abs)
		out, next := markup.InsertAt(body, pos, snippet)
		return Insertion{Body: out, Next: next, Snippet: snippet}, nil
	}

	resize, err := a.shouldResize(ctx, path)
	if err != nil {
		return Insertion{}, err
	}
	r, err := a.store.CreateFromPath(ctx, path, resource.CreateOptions{
		ResizeLargeImages: resize,
		MaxImageDim:       a.cfg.ImageMaxDim,
	})
	if err != nil {
		if errors.Is(err, ErrUserCancelled) {
			return Insertion{}, err
		}
		return Insertion{}, fmt.Errorf("%w: %s: %v", ErrAttachmentCreate, path, err)
	}
	// A deduplicated resource keeps the title of its first upload; the
	// reference names the file the user picked.
	shown := r
	shown.Title = filepath.Base(path)
	snippet := markup.ResourceSnippet(lang, shown)
	out, next := markup.InsertAt(body, pos, snippet)
	slog.Debug("attached file", "path", path, "id", r.ID, "mime", r.Mime)
	return Insertion{Body: out, Next: next, Snippet: snippet, Resource: &r}, nil
}

func (a *Attacher) shouldResize(ctx context.Context, path string) (bool, error) {
	if !a.cfg.ImageResize {
		return false, nil
	}
	if a.resize == nil {
		return true, nil
	}
	m, err := mimetype.DetectFile(path)
	if err != nil || !strings.HasPrefix(m.String(), "image/") {
		return false, nil
	}
	return a.resize.ConfirmResize(ctx, path)
}

func (a *Attacher) language(lang markup.Language) markup.Language {
	if lang != "" {
		return lang
	}
	parsed, err := markup.ParseLanguage(a.cfg.MarkupLanguage)
	if err != nil {
		return markup.Markdown
	}
	return parsed
}
