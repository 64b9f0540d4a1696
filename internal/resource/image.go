package resource

import (
	"bytes"
	"fmt"
	"image"
	"os"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"

	storagefs "notekit/internal/storage/fs"
)

func isResizable(mime string) bool {
	switch strings.ToLower(mime) {
	case "image/jpeg", "image/png":
		return true
	}
	return false
}

// ResizeLargeImage shrinks the image at path in place so neither side exceeds
// maxDim, keeping the aspect ratio. It reports whether the file changed.
func ResizeLargeImage(path string, maxDim int) (bool, error) {
	if maxDim <= 0 {
		return false, nil
	}
	format, err := imaging.FormatFromFilename(path)
	if err != nil {
		return false, err
	}
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return false, err
	}
	bounds := img.Bounds()
	if bounds.Dx() <= maxDim && bounds.Dy() <= maxDim {
		return false, nil
	}
	scaled := resize.Thumbnail(uint(maxDim), uint(maxDim), img, resize.Lanczos3)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, scaled, format); err != nil {
		return false, err
	}
	if err := storagefs.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return false, err
	}
	return true, nil
}

// ImageFormat maps a MIME type or bare format name to an imaging format.
func ImageFormat(format string) (imaging.Format, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	format = strings.TrimPrefix(format, "image/")
	switch format {
	case "png":
		return imaging.PNG, nil
	case "jpeg", "jpg":
		return imaging.JPEG, nil
	case "gif":
		return imaging.GIF, nil
	case "bmp", "x-ms-bmp":
		return imaging.BMP, nil
	case "tiff", "tif":
		return imaging.TIFF, nil
	}
	return 0, fmt.Errorf("unsupported image format %q", format)
}

// ImageFileWriter serializes clipboard images to disk.
type ImageFileWriter struct{}

func (ImageFileWriter) WriteImageToFile(img image.Image, format, path string) error {
	f, err := ImageFormat(format)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, f); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
