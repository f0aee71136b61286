package vectorindex

import "errors"

var (
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrIncompatible      = errors.New("index incompatible")
	ErrDuplicateID       = errors.New("duplicate vector id")
	ErrUnreachable       = errors.New("vector index backend unreachable")
)
