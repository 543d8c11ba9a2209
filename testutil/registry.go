package testutil

import (
	"time"

	"github.com/skosovsky/salvage"
)

// NewTestRegistry returns a Registry with long timeout and panic recovery enabled,
// suitable for tests.
func NewTestRegistry(tools ...salvage.Tool) *salvage.Registry {
	reg := salvage.NewRegistry(
		salvage.WithDefaultTimeout(30*time.Second),
		salvage.WithRecoverPanics(true),
	)
	for _, t := range tools {
		reg.Register(t)
	}
	return reg
}
