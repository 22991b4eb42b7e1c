package domain

import "errors"

var (
	ErrNotFound        = errors.New("resource not found")
	ErrInvalidReport   = errors.New("report text is empty")
	ErrUnknownCategory = errors.New("unknown cancer category")
	ErrStoreDisabled   = errors.New("result store is not configured")
)
