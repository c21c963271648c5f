package usecase

// Feature flag names. The set is fixed; unknown names are disabled.
const (
	FlagBuffering           = "buffering"
	FlagTypingIndicator     = "typing_indicator"
	FlagEnhancedProcessing  = "enhanced_processing"
	FlagResponsePostprocess = "response_postprocess"
)

// FeatureFlags is a read-only set of boolean toggles built from configuration
// at startup and injected into the components that consult it.
type FeatureFlags struct {
	values map[string]bool
}

// NewFeatureFlags creates the flag set. Nil values means all flags disabled.
func NewFeatureFlags(values map[string]bool) *FeatureFlags {
	copied := make(map[string]bool, len(values))
	for name, enabled := range values {
		copied[name] = enabled
	}
	return &FeatureFlags{values: copied}
}

// IsEnabled reports whether a flag is on. Unknown flags default to disabled.
func (f *FeatureFlags) IsEnabled(name string) bool {
	return f.values[name]
}
