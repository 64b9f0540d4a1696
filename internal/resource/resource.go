package resource

import (
	"errors"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("resource not found")

type Resource struct {
	ID            string
	Title         string
	Mime          string
	FileExtension string
	Size          int64
	SHA256        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Filename is the payload name inside the resource directory.
func (r Resource) Filename() string {
	if r.FileExtension == "" {
		return r.ID
	}
	return r.ID + "." + r.FileExtension
}

func (r Resource) IsImage() bool {
	return strings.HasPrefix(strings.ToLower(r.Mime), "image/")
}

// FetchStatus is the local availability of a resource payload.
type FetchStatus string

const (
	StatusError         FetchStatus = "error"
	StatusNotDownloaded FetchStatus = "not-downloaded"
	StatusDownloading   FetchStatus = "downloading"
	StatusReady         FetchStatus = "ready"
)

// statusOrder lists states from most to least blocking.
var statusOrder = []FetchStatus{StatusError, StatusNotDownloaded, StatusDownloading, StatusReady}

// StatusIndex returns the readiness rank of s. Unknown values rank as error.
func StatusIndex(s FetchStatus) int {
	for i, v := range statusOrder {
		if v == s {
			return i
		}
	}
	return 0
}

func StatusName(index int) FetchStatus {
	if index < 0 || index >= len(statusOrder) {
		return StatusError
	}
	return statusOrder[index]
}

func ParseFetchStatus(raw string) (FetchStatus, bool) {
	s := FetchStatus(strings.ToLower(strings.TrimSpace(raw)))
	for _, v := range statusOrder {
		if v == s {
			return s, true
		}
	}
	return "", false
}

type LocalState struct {
	ResourceID  string
	FetchStatus FetchStatus
	FetchError  string
	UpdatedAt   time.Time
}

// NewID returns a 32 character lowercase hex identifier.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func IsValidID(id string) bool {
	if len(id) != 32 {
		return false
	}
	for _, c := range id {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// ExtensionForMime maps a MIME type such as image/png to an extension
// without the leading dot. Unknown types yield "".
func ExtensionForMime(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	if mime == "" {
		return ""
	}
	if m := mimetype.Lookup(mime); m != nil {
		return strings.TrimPrefix(m.Extension(), ".")
	}
	return ""
}
