package fulltext

import "errors"

var (
	ErrTypeNotRegistered     = errors.New("Entity type is not registered for full-text indexing")
	ErrTypeAlreadyRegistered = errors.New("Entity type is already registered for full-text indexing")
	ErrNoEntityTable         = errors.New("Entity type has no table configured")
	ErrUnknownInclude        = errors.New("Unknown include")
	ErrEmptyTypeName         = errors.New("Entity type name may not be empty")
)
