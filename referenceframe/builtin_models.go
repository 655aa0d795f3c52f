package referenceframe

import (
	"embed"
	"path"
	"strings"

	"github.com/pkg/errors"
)

//go:embed models/*.json
var builtinModels embed.FS

// BuiltinModelNames lists the kinematic models shipped with the module.
func BuiltinModelNames() []string {
	entries, err := builtinModels.ReadDir("models")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), path.Ext(e.Name())))
	}
	return names
}

// BuiltinModel returns one of the embedded kinematic models: "lbr_iiwa_7", a 7 dof serial arm with capsule links, or
// "slider", a single prismatic joint carrying a sphere.
func BuiltinModel(name string) (Model, error) {
	data, err := builtinModels.ReadFile(path.Join("models", name+".json"))
	if err != nil {
		return nil, errors.Errorf("no builtin model named %q, have %v", name, BuiltinModelNames())
	}
	return UnmarshalModelJSON(data, name)
}
