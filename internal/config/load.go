package config

import (
	"fmt"
	"os"

	"github.com/ghodss/yaml"
)

// Load reads path, expands environment variable references, and unmarshals
// the result into a Config. It does not call Validate; callers should do so
// explicitly so a malformed-but-readable config fails with a clear message.
func Load(path string) (Config, error) {
	var c Config
	raw, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("config: read %s: %w", path, err)
	}
	raw = ExpandEnv(raw)
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return c, nil
}
