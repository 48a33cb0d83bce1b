package registry

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"apk-portal/internal/apperr"
)

// seedFile is the YAML layout accepted by Import:
//
//	applications:
//	  - name: POS App
//	    slug: pos
//	    description: Point of sale
//	    active: true
type seedFile struct {
	Applications []seedApp `yaml:"applications"`
}

type seedApp struct {
	Name        string `yaml:"name"`
	Slug        string `yaml:"slug"`
	Description string `yaml:"description"`
	Active      *bool  `yaml:"active"`
}

// ParseSeed reads application types from YAML. Entries without an active
// field are active.
func ParseSeed(r io.Reader) ([]AppInput, error) {
	var f seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, apperr.Validation("registry.ParseSeed", fmt.Sprintf("invalid seed file: %v", err))
	}

	out := make([]AppInput, 0, len(f.Applications))
	for _, a := range f.Applications {
		in := AppInput{Name: a.Name, Slug: a.Slug, Description: a.Description, Active: true}
		if a.Active != nil {
			in.Active = *a.Active
		}
		out = append(out, in)
	}
	return out, nil
}

// ImportResult counts what Import did
type ImportResult struct {
	Created int
	Updated int
}

// Import creates application types that do not exist yet and updates the
// ones whose slug is already registered.
func (r *Registry) Import(ctx context.Context, inputs []AppInput) (*ImportResult, error) {
	res := &ImportResult{}
	for _, in := range inputs {
		_, slug, err := normalize(in)
		if err != nil {
			return res, err
		}

		existing, err := r.FindBySlug(ctx, slug)
		if err != nil && !apperr.Is(err, apperr.KindNotFound) {
			return res, err
		}
		if existing == nil {
			if _, err := r.Create(ctx, in); err != nil {
				return res, fmt.Errorf("failed to create %q: %w", in.Name, err)
			}
			res.Created++
			continue
		}

		if _, err := r.Update(ctx, existing.ID, in); err != nil {
			return res, fmt.Errorf("failed to update %q: %w", in.Name, err)
		}
		res.Updated++
	}
	return res, nil
}
