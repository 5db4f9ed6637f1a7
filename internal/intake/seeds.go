package intake

import (
	"context"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/FireBladesAdi/dental-form-pro/internal/util"
)

// SeedTemplate is the YAML form of a starter template.
type SeedTemplate struct {
	Name           string      `yaml:"name"`
	DeletePasscode string      `yaml:"deletePasscode"`
	Fields         []SeedField `yaml:"fields"`
}

type SeedField struct {
	Label   string    `yaml:"label"`
	Type    FieldType `yaml:"type"`
	Options string    `yaml:"options"`
}

// ParseSeeds reads a YAML list of templates and validates every field.
func ParseSeeds(r io.Reader) ([]SeedTemplate, error) {
	var seeds []SeedTemplate
	if err := yaml.NewDecoder(r).Decode(&seeds); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode seed templates: %w", err)
	}
	for i, seed := range seeds {
		if strings.TrimSpace(seed.Name) == "" {
			return nil, invalidInput("seed template %d has no name", i)
		}
		for j, f := range seed.Fields {
			if strings.TrimSpace(f.Label) == "" {
				return nil, invalidInput("seed template %q field %d has no label", seed.Name, j)
			}
			if !f.Type.Valid() {
				return nil, invalidInput("seed template %q field %q has unknown type %q", seed.Name, f.Label, f.Type)
			}
		}
	}
	return seeds, nil
}

// Seed installs seeds into a clinic whose aggregate is still empty. It
// reports how many templates were written.
func (l *TemplateLibrary) Seed(ctx context.Context, clinic string, seeds []SeedTemplate) (int, error) {
	installed := 0
	err := l.update(ctx, clinic, func(templates map[string]FormTemplate) (bool, error) {
		if len(templates) > 0 || len(seeds) == 0 {
			return false, nil
		}
		now := l.opts.nowMillis()
		for i, seed := range seeds {
			t := FormTemplate{
				ID:             util.NewID("form"),
				Name:           strings.TrimSpace(seed.Name),
				DeletePasscode: seed.DeletePasscode,
				Fields:         make([]FieldSpec, 0, len(seed.Fields)),
				// keep file order when listing
				CreatedAt: now + int64(i),
			}
			for _, f := range seed.Fields {
				t.Fields = append(t.Fields, FieldSpec{
					ID:      util.NewID("f"),
					Label:   strings.TrimSpace(f.Label),
					Type:    f.Type,
					Options: f.Options,
				})
			}
			templates[t.ID] = t
		}
		installed = len(seeds)
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	return installed, nil
}
