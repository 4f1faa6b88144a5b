package handlers

import (
	"sync"

	"github.com/MohMaya/claude-glm-wrapper/internal/providers"
)

// ActiveModel is the process-wide sticky routing default: the target of the
// most recently resolved request.
type ActiveModel struct {
	mu sync.RWMutex
	pm *providers.ProviderModel
}

func NewActiveModel(initial *providers.ProviderModel) *ActiveModel {
	a := &ActiveModel{}
	if initial != nil {
		a.Set(*initial)
	}

	return a
}

// Get returns a copy of the active target, or nil before the first request.
func (a *ActiveModel) Get() *providers.ProviderModel {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.pm == nil {
		return nil
	}

	pm := *a.pm

	return &pm
}

func (a *ActiveModel) Set(pm providers.ProviderModel) {
	a.mu.Lock()
	a.pm = &pm
	a.mu.Unlock()
}
