package install

import (
	"fmt"
	"path/filepath"
)

// Kind is a component type. It names the tool subcommand and the content
// subdirectory the component lives in.
type Kind struct {
	name string
	dir  string
}

var (
	Plugin = Kind{name: "plugin", dir: "plugins"}
	Theme  = Kind{name: "theme", dir: "themes"}
)

// ParseKind maps "plugin" or "theme" to its Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case Plugin.name:
		return Plugin, nil
	case Theme.name:
		return Theme, nil
	}
	return Kind{}, fmt.Errorf("unknown component kind %q", s)
}

func (k Kind) String() string { return k.name }

// Path is the directory holding component id under contentDir.
func (k Kind) Path(contentDir, id string) string {
	return filepath.Join(contentDir, k.dir, id)
}
