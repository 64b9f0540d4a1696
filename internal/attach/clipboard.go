package attach

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"

	"notekit/internal/resource"
)

// ResourcesFromClipboard stores every image advertised by cb and returns one
// body per stored image. A clipboard without images yields an empty list and
// touches nothing on disk.
func (a *Attacher) ResourcesFromClipboard(ctx context.Context, cb Clipboard, ev PasteEvent) ([]string, error) {
	var bodies []string
	for _, format := range cb.AvailableFormats() {
		mediaType, subType, ok := strings.Cut(strings.ToLower(format), "/")
		if !ok || mediaType != "image" {
			continue
		}
		if ev != nil {
			ev.PreventDefault()
		}
		body, err := a.attachClipboardImage(ctx, cb, format, subType)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			slog.Warn("clipboard image", "format", format, "err", err)
			continue
		}
		if body != "" {
			bodies = append(bodies, body)
		}
	}
	return bodies, nil
}

func (a *Attacher) attachClipboardImage(ctx context.Context, cb Clipboard, format, subType string) (string, error) {
	img, err := cb.ReadImage()
	if err != nil {
		return "", fmt.Errorf("read clipboard image: %w", err)
	}
	if err := os.MkdirAll(a.cfg.TempDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(a.cfg.TempDir, tempName(strconv.FormatInt(time.Now().UnixNano(), 10), resource.ExtensionForMime(format)))
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("remove temp image", "path", path, "err", err)
		}
	}()
	if err := a.images.WriteImageToFile(img, subType, path); err != nil {
		return "", fmt.Errorf("write clipboard image: %w", err)
	}
	result, err := a.Attach(ctx, "", []string{path}, AttachOptions{Position: AppendPosition})
	if err != nil {
		return "", err
	}
	if result == nil {
		return "", nil
	}
	return result.Body, nil
}

func tempName(seed, ext string) string {
	sum := md5.Sum([]byte(seed))
	name := hex.EncodeToString(sum[:])
	if ext != "" {
		name += "." + ext
	}
	return name
}

// FileClipboard serves an image file as if it had been copied to the
// clipboard.
type FileClipboard struct {
	Path string
}

func (c FileClipboard) AvailableFormats() []string {
	m, err := mimetype.DetectFile(c.Path)
	if err != nil {
		return nil
	}
	mime, _, _ := strings.Cut(m.String(), ";")
	return []string{strings.TrimSpace(mime)}
}

func (c FileClipboard) ReadImage() (image.Image, error) {
	return imaging.Open(c.Path)
}
