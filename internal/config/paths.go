package config

import (
	"os"
	"path/filepath"
	"strings"
)

const defaultBaseDir = ".envieii"

// Paths holds resolved filesystem locations.
type Paths struct {
	Base   string // ~/.envieii
	Config string // ~/.envieii/config.yaml
	DotEnv string // ~/.envieii/.env
	Logs   string // ~/.envieii/logs
	Data   string // ~/.envieii/data
}

// ResolvePaths computes the standard paths. ENVIEII_HOME overrides the base.
func ResolvePaths() (Paths, error) {
	base := os.Getenv("ENVIEII_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, err
		}
		base = filepath.Join(home, defaultBaseDir)
	}

	return Paths{
		Base:   base,
		Config: filepath.Join(base, "config.yaml"),
		DotEnv: filepath.Join(base, ".env"),
		Logs:   filepath.Join(base, "logs"),
		Data:   filepath.Join(base, "data"),
	}, nil
}

// EnsureDirs creates the standard directories.
func (p Paths) EnsureDirs() error {
	for _, d := range []string{p.Base, p.Logs, p.Data} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return err
		}
	}
	return nil
}

// StatusLogDSN is the sqlite file used when store.dsn is empty.
func (p Paths) StatusLogDSN() string {
	return filepath.Join(p.Data, "messages.db")
}

// ParseConfigPath splits a dotted path such as "openai.model".
func ParseConfigPath(raw string) ([]string, error) {
	if raw == "" {
		return nil, &ConfigError{Message: "empty config path"}
	}
	parts := strings.Split(raw, ".")
	for _, p := range parts {
		if p == "" {
			return nil, &ConfigError{Message: "config path contains empty segment"}
		}
	}
	return parts, nil
}

// GetValueAtPath walks nested maps along path.
func GetValueAtPath(root map[string]any, path []string) (any, bool) {
	var cur any = root
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[key]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// SetValueAtPath sets a value, replacing non-map intermediates with maps.
func SetValueAtPath(root map[string]any, path []string, value any) {
	m := root
	for _, key := range path[:len(path)-1] {
		child, ok := m[key].(map[string]any)
		if !ok {
			child = map[string]any{}
			m[key] = child
		}
		m = child
	}
	m[path[len(path)-1]] = value
}

// UnsetValueAtPath removes the value at path and reports whether it existed.
func UnsetValueAtPath(root map[string]any, path []string) bool {
	parent, ok := GetValueAtPath(root, path[:len(path)-1])
	if !ok {
		return false
	}
	m, ok := parent.(map[string]any)
	if !ok {
		return false
	}
	last := path[len(path)-1]
	if _, ok := m[last]; !ok {
		return false
	}
	delete(m, last)
	return true
}
