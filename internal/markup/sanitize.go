package markup

import (
	"net/url"

	"github.com/microcosm-cc/bluemonday"

	storagefs "notekit/internal/storage/fs"
)

type SanitizeOptions struct {
	// AllowedFilePrefixes lists directories that file: URLs may point into.
	// Any other file: URL is removed.
	AllowedFilePrefixes []string
}

func newPolicy(opts SanitizeOptions) *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowDataURIImages()
	prefixes := append([]string(nil), opts.AllowedFilePrefixes...)
	p.AllowURLSchemeWithCustomPolicy("file", func(u *url.URL) bool {
		path, err := storagefs.FileURIToPath(u.String())
		if err != nil {
			return false
		}
		for _, prefix := range prefixes {
			if storagefs.IsWithinDir(prefix, path) {
				return true
			}
		}
		return false
	})
	return p
}

// Sanitize strips unsafe markup from raw HTML.
func Sanitize(raw string, opts SanitizeOptions) string {
	return newPolicy(opts).Sanitize(raw)
}
