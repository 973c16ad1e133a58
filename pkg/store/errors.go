package store

import "errors"

var (
	ErrNotFound      = errors.New("entity not found")
	ErrInvalidEntity = errors.New("entity must be a json object")
	ErrEmptyID       = errors.New("empty id")
)
