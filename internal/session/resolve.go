package session

import (
	"fmt"
	"regexp"

	"github.com/parleyhq/parley/internal/config"
)

const DefaultSessionName = "main"

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName checks that name conforms to session naming rules.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid session name %q: must match ^[a-z0-9_-]{1,64}$", name)
	}
	return nil
}

// Resolve determines the active session name using precedence:
// 1. flagOverride (--session flag)
// 2. config.toml [session].default
// 3. "main"
//
// configPath overrides where the config is read from; empty means the
// default ConfigPath().
func Resolve(flagOverride, configPath string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if configPath == "" {
		configPath = ConfigPath()
	}
	cfg, err := config.Load(configPath)
	if err == nil && cfg.Session.Default != "" {
		return cfg.Session.Default
	}
	return DefaultSessionName
}
