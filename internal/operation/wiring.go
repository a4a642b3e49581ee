package operation

import (
	"log/slog"
)

// Capabilities bundles the external capabilities operation
// implementations depend on.
type Capabilities struct {
	Converter   Converter
	Transferrer Transferrer
}

// DefaultRegistry builds the statically-populated registry the worker
// runtime owns: every operation this engine knows, wired once at
// process start.
func DefaultRegistry(logger *slog.Logger, caps Capabilities) *Registry {
	r := NewRegistry()
	r.MustRegister(NewRebuildItemTags(logger))
	r.MustRegister(NewUpdatePermissions(logger))
	r.MustRegister(NewRebuildKnownTags())
	r.MustRegister(NewRebuildKnownTagsAnon())
	if caps.Converter != nil {
		r.MustRegister(NewConvertMedia(caps.Converter))
	}
	if caps.Transferrer != nil {
		r.MustRegister(NewReplicatePayload(caps.Transferrer))
	}
	return r
}
