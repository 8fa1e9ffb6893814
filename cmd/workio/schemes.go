package main

import (
	"log/slog"

	"github.com/desertwitch/workio/internal/configuration"
	"github.com/desertwitch/workio/internal/registry"
)

// builtinSchemes are served by the bundled worker executable unless a
// descriptor of the same name overrides them.
func builtinSchemes(workerPath string) []registry.Scheme {
	return []registry.Scheme{
		{
			Name:             "file",
			Exec:             workerPath,
			MaxWorkers:       4, //nolint:mnd
			Reading:          true,
			Writing:          true,
			MakeDir:          true,
			Deleting:         true,
			Linking:          true,
			Moving:           true,
			Listing:          true,
			ChangeAttributes: true,
			CopyFromFile:     true,
			CopyToFile:       true,
			DeleteRecursive:  true,
			Source:           true,
		},
		{
			Name:              "s3",
			Exec:              workerPath,
			MaxWorkers:        8, //nolint:mnd
			MaxWorkersPerHost: 4, //nolint:mnd
			Reading:           true,
			Writing:           true,
			MakeDir:           true,
			Deleting:          true,
			Moving:            true,
			Listing:           true,
			DeleteRecursive:   true,
			Source:            true,
		},
	}
}

// loadRegistry reads the scheme descriptors and fills in the built-in
// schemes that no descriptor replaced.
func loadRegistry(reader *configuration.ConfigProviderImpl, cfg *configuration.AppConfiguration) (*registry.Registry, error) {
	reg, err := registry.New(reader, cfg.SchemeDirs...)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	known := make(map[string]struct{})
	for _, name := range reg.Schemes() {
		known[name] = struct{}{}
	}

	for _, s := range builtinSchemes(cfg.WorkerPath) {
		if _, ok := known[s.Name]; ok {
			slog.Debug("Built-in scheme replaced by descriptor", "scheme", s.Name)

			continue
		}
		reg.Register(s)
	}

	return reg, nil
}
