package attach

import (
	"context"
	"image"

	"notekit/internal/resource"
)

// Store is the subset of resource.Store the attacher and cache depend on.
type Store interface {
	Load(ctx context.Context, id string) (resource.Resource, error)
	CreateFromPath(ctx context.Context, path string, opts resource.CreateOptions) (resource.Resource, error)
	FullPath(r resource.Resource) string
	LocalState(ctx context.Context, r resource.Resource) (resource.LocalState, error)
}

type Downloader interface {
	MarkForDownload(ctx context.Context, ids []string) error
}

// Fetcher downloads url into the file at path.
type Fetcher interface {
	FetchBlob(ctx context.Context, url, path string) error
}

type ImageWriter interface {
	WriteImageToFile(img image.Image, format, path string) error
}

// Picker asks the user for files. It returns ErrUserCancelled when the
// dialog is dismissed.
type Picker interface {
	PickFiles(ctx context.Context) ([]string, error)
}

// ResizeConfirmer decides whether a large image is shrunk before it is
// stored. Returning ErrUserCancelled aborts the remaining batch.
type ResizeConfirmer interface {
	ConfirmResize(ctx context.Context, path string) (bool, error)
}

type Notifier interface {
	ShowError(msg string)
}

type Clipboard interface {
	AvailableFormats() []string
	ReadImage() (image.Image, error)
}

type PasteEvent interface {
	PreventDefault()
}
