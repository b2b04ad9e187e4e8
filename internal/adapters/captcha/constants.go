package captcha

import "errors"

const (
	CharsetAlphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	DefaultCodeLength   = 4
)

const (
	RemoteErrBadImage    = "BAD_IMAGE"
	RemoteErrBusy        = "BUSY"
	RemoteErrNoDevice    = "NO_DEVICE"
	RemoteErrUnsupported = "UNSUPPORTED"
)

var (
	ErrEngineClosed      = errors.New("ocr engine closed")
	ErrEngineBusy        = errors.New("ocr engine busy")
	ErrUnknownEngine     = errors.New("unknown ocr engine")
	ErrEndpointRequired  = errors.New("ocr endpoint required for remote engine")
	ErrDeviceUnavailable = errors.New("ocr device unavailable")
)
