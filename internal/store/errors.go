package store

import "errors"

var (
	ErrConflict      = errors.New("conflict")
	ErrNotFound      = errors.New("not found")
	ErrDuplicate     = errors.New("duplicate slot")
	ErrStatusChanged = errors.New("slot status changed concurrently")
)
