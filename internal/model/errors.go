package model

import (
	"errors"
)

var (
	ErrNoProcessor = errors.New("processor path is empty")
	ErrVersion     = errors.New("unsupported config version")
)
