package attach

import "errors"

var (
	ErrAttachmentCreate = errors.New("attachment create failed")
	ErrFetch            = errors.New("remote fetch failed")
	ErrFileRead         = errors.New("file not readable")
	ErrUserCancelled    = errors.New("cancelled by user")
)
