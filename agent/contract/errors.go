package contract

import "errors"

var (
	ErrModelInvoke     = errors.New("model invoke failed")
	ErrSchemaViolation = errors.New("model response violates schema")
	ErrPromptMissing   = errors.New("required prompt is missing")
	ErrValidation      = errors.New("validation failed")

	ErrInvalidEvent = errors.New("invalid inbound event")
	ErrUnknownTool  = errors.New("tool is not in the menu")

	ErrUnsupportedFormat     = errors.New("unsupported media format")
	ErrTooLarge              = errors.New("media exceeds size limit")
	ErrMediaNotFound         = errors.New("media not found")
	ErrFormatRejected        = errors.New("capability rejected media format")
	ErrTranscoderUnavailable = errors.New("audio transcoder unavailable")
)
