package builtin

import "github.com/smilemakc/mbflow/pkg/registry"

// RegisterAll registers every built-in node kind spec.md §4.2 requires with
// the given registry. Applications that want a subset may register
// individual descriptors directly instead.
func RegisterAll(r registry.Registry) error {
	descriptors := []registry.Descriptor{
		ManualInput(),
		ReadCSV(),
		ReadParquet(),
		ReadExcel(),
		ReadJSON(),
		CloudStorageReader(),
		CloudStorageWriter(),
		DatabaseReader(),
		DatabaseWriter(),
		Select(),
		Filter(),
		GroupBy(),
		Join(),
		CrossJoin(),
		Union(),
		Sort(),
		Unique(),
		Pivot(),
		Unpivot(),
		Head(),
		Sample(),
		RecordID(),
		Formula(),
		PolarsCode(),
		Output(),
	}
	for _, d := range descriptors {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// MustRegisterAll registers every built-in node kind and panics on error.
func MustRegisterAll(r registry.Registry) {
	if err := RegisterAll(r); err != nil {
		panic("registry: failed to register built-ins: " + err.Error())
	}
}
