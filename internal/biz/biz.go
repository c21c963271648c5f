package biz

import (
	"github.com/draftpilot/wabuffer/internal/biz/usecase"
)

// Usecases contains all usecases
type Usecases struct {
	Buffer *usecase.BufferUsecase
	Closer *usecase.CloserUsecase
	Flags  *usecase.FeatureFlags
}
