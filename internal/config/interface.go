package config

import "context"

// Loader is the interface for a format-specific configuration loader,
// mirroring spec §6's configuration-document contract: given one or more
// paths it returns the merged, format-agnostic Model. Concrete
// implementations (e.g. HCL, in internal/hcl) live in separate packages so
// the rest of the engine never imports a parser directly.
type Loader interface {
	Load(ctx context.Context, paths ...string) (*Model, error)
}
