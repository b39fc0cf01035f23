// Package apperr defines the sentinel errors shared across quill packages.
package apperr

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrParse        = errors.New("parse failed")
	ErrTemplate     = errors.New("template failed")
	ErrRenderFailed = errors.New("render failed")
	ErrStoreClosed  = errors.New("store closed")
)
