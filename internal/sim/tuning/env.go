package tuning

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every override variable, e.g.
// VOIDSTORAGE_DISPATCH_COOLDOWN_MS.
const EnvPrefix = "VOIDSTORAGE_"

// ApplyEnv overrides fields of t from the environment. Unset variables leave
// fields untouched.
func ApplyEnv(t *Tuning) error {
	if err := env.ParseWithOptions(t, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
