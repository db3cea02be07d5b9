package plan

import "errors"

var (
	ErrPlanNotFound             = errors.New("plan not found in catalog")
	ErrInvalidPlanConfiguration = errors.New("invalid plan configuration")
	ErrFailedToLoadCatalog      = errors.New("failed to load plan catalog")
)
