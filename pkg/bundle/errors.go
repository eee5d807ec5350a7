package bundle

import "errors"

// Configuration errors raised by the loader. All are surfaced at
// construction/reload time, never inside the pipeline.
var (
	ErrNoSource          = errors.New("bundle: exactly one policy source must be provided")
	ErrPathOutsideBase   = errors.New("bundle: resolved file path escapes the allowed base directory")
	ErrSymlinkRejected   = errors.New("bundle: policy file must not be a symbolic link")
	ErrNotRegularFile    = errors.New("bundle: policy file must be a regular file")
	ErrFileTooLarge      = errors.New("bundle: policy file exceeds the maximum allowed size")
	ErrJSONTooLarge      = errors.New("bundle: policy JSON exceeds the maximum allowed size")
	ErrTooDeep           = errors.New("bundle: policy JSON exceeds the maximum structural nesting depth")
	ErrTooManyRules      = errors.New("bundle: policy bundle exceeds the maximum rule count")
	ErrBadTimestamps     = errors.New("bundle: generated_at must be before expires_at")
	ErrExpired           = errors.New("bundle: policy bundle has expired")
	ErrSignatureInvalid  = errors.New("signature verification failed; policy may have been tampered with")
)
