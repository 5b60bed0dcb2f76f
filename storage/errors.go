package storage

import "errors"

var (
	ErrNotFound   = errors.New("storage: not found")
	ErrInvalidKey = errors.New("storage: invalid key")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
