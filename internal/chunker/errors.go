package chunker

import "errors"

var ErrInvalidConfiguration = errors.New("invalid chunk configuration")
