package listing

import "errors"

var (
	ErrInvalidStatus  = errors.New("invalid listing status")
	ErrItemIDRequired = errors.New("item id is required")
	ErrNoCredential   = errors.New("credential is required")
)
