package plan

import (
	"context"
	"errors"
	"os"

	"gopkg.in/yaml.v3"
)

// yamlSource loads the catalog from a YAML file. The file holds a list of
// plans; the map key is derived from each plan's type field:
//
//	plans:
//	  - type: trial
//	    name: Free Trial
//	    emails_per_month: 50
//	    emails_received: 100
//	    ai_replies: 25
//	    stores: 1
//	    trial_days: 7
type yamlSource struct {
	path string
}

// NewYAMLSource returns a Source that reads the catalog from the given file.
// The file is re-read on every Load so changes apply on restart or reload.
func NewYAMLSource(path string) Source {
	return &yamlSource{path: path}
}

type yamlCatalogFile struct {
	Plans []Plan `yaml:"plans"`
}

// Load parses and validates the YAML catalog file.
func (s *yamlSource) Load(ctx context.Context) (Catalog, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadCatalog, err)
	}

	var file yamlCatalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, errors.Join(ErrFailedToLoadCatalog, err)
	}

	catalog := make(Catalog, len(file.Plans))
	for _, p := range file.Plans {
		catalog[p.Type] = p
	}

	if err := Validate(catalog); err != nil {
		return nil, errors.Join(ErrFailedToLoadCatalog, err)
	}

	return catalog, nil
}
