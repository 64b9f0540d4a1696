package attach

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/yuin/goldmark/util"

	"notekit/internal/markup"
	"notekit/internal/resource"
	storagefs "notekit/internal/storage/fs"
)

// Converters round-trip pasted HTML through the note markup. Set both or
// neither.
type Converters struct {
	HTMLToMarkup func(string) (string, error)
	MarkupToHTML func(string) (string, error)
}

// MarkdownConverters round-trips through Markdown.
func MarkdownConverters() Converters {
	return Converters{HTMLToMarkup: markup.HTMLToMarkdown, MarkupToHTML: markup.MarkdownToHTML}
}

// ProcessPastedHTML stores every image referenced by pasted HTML and returns
// sanitized body HTML pointing at the stored copies. Images that cannot be
// stored keep their original source.
func (a *Attacher) ProcessPastedHTML(ctx context.Context, raw string, conv Converters) (string, error) {
	if (conv.HTMLToMarkup == nil) != (conv.MarkupToHTML == nil) {
		return "", errors.New("attach: converters must be set together")
	}
	out := markup.NormalizeSpaces(raw)

	sources, err := markup.ImageURLs(out)
	if err != nil {
		return "", fmt.Errorf("scan images: %w", err)
	}
	refs := map[string]string{}
	for _, src := range sources {
		if _, ok := refs[src]; ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		resolved, err := a.resolveImageSource(ctx, src)
		if err != nil {
			slog.Warn("paste image", "src", truncateSource(src), "err", err)
			resolved = src
		}
		refs[src] = resolved
	}

	if conv.HTMLToMarkup != nil {
		md, err := conv.HTMLToMarkup(out)
		if err != nil {
			return "", fmt.Errorf("convert to markup: %w", err)
		}
		if out, err = conv.MarkupToHTML(md); err != nil {
			return "", fmt.Errorf("convert to html: %w", err)
		}
	}

	out, err = markup.ReplaceImageURLs(out, func(src string) string {
		if v, ok := lookupSource(refs, src); ok {
			return v
		}
		return ""
	})
	if err != nil {
		return "", fmt.Errorf("rewrite images: %w", err)
	}

	out = markup.Sanitize(out, markup.SanitizeOptions{AllowedFilePrefixes: []string{a.cfg.ResourceDir}})
	return markup.ExtractBody(out)
}

func (a *Attacher) resolveImageSource(ctx context.Context, src string) (string, error) {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(src)), "data:") {
		return src, nil
	}
	if storagefs.IsFileURI(src) {
		p, err := storagefs.FileURIToPath(src)
		if err != nil {
			return "", err
		}
		if storagefs.IsWithinDir(a.cfg.ResourceDir, p) {
			return src, nil
		}
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("%w: %v", ErrFileRead, err)
		}
		return a.storeImage(ctx, p, "")
	}

	if err := os.MkdirAll(a.cfg.TempDir, 0o755); err != nil {
		return "", err
	}
	seed := src + strconv.FormatInt(time.Now().UnixNano(), 10)
	tmp := filepath.Join(a.cfg.TempDir, tempName(seed, remoteExtension(src)))
	defer func() {
		if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
			slog.Warn("remove temp download", "path", tmp, "err", err)
		}
	}()
	if err := a.fetcher.FetchBlob(ctx, src, tmp); err != nil {
		if errors.Is(err, ErrFetch) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrFetch, err)
	}
	return a.storeImage(ctx, tmp, remoteTitle(src))
}

func (a *Attacher) storeImage(ctx context.Context, p, title string) (string, error) {
	r, err := a.store.CreateFromPath(ctx, p, resource.CreateOptions{
		Title:             title,
		ResizeLargeImages: a.cfg.ImageResize,
		MaxImageDim:       a.cfg.ImageMaxDim,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAttachmentCreate, err)
	}
	return storagefs.PathToFileURI(a.store.FullPath(r)), nil
}

// lookupSource finds the canonical reference for src. The markup round trip
// may hand back the source escaped differently from how it was pasted.
func lookupSource(refs map[string]string, src string) (string, bool) {
	if v, ok := refs[src]; ok {
		return v, true
	}
	candidates := []string{html.UnescapeString(src)}
	if u, err := url.PathUnescape(src); err == nil {
		candidates = append(candidates, u)
	}
	for _, c := range candidates {
		if v, ok := refs[c]; ok {
			return v, true
		}
	}
	for k, v := range refs {
		if string(util.URLEscape([]byte(k), false)) == src {
			return v, true
		}
	}
	return "", false
}

func remoteTitle(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." {
		return ""
	}
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	return name
}

func remoteExtension(raw string) string {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(remoteTitle(raw))), ".")
	if len(ext) == 0 || len(ext) > 5 {
		return ""
	}
	for _, c := range ext {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return ""
		}
	}
	return ext
}

func truncateSource(src string) string {
	if len(src) > 120 {
		return src[:120] + "..."
	}
	return src
}
