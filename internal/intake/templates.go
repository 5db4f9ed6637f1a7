package intake

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/FireBladesAdi/dental-form-pro/internal/docstore"
	"github.com/FireBladesAdi/dental-form-pro/internal/util"
)

// TemplateLibrary edits the clinic's template aggregate, a single document
// mapping template ID to template. Every mutation reads the whole map,
// changes a copy and writes it back, so concurrent designers resolve by last
// write.
type TemplateLibrary struct {
	store docstore.Store
	opts  options
}

func NewTemplateLibrary(store docstore.Store, opts ...Option) *TemplateLibrary {
	return &TemplateLibrary{store: store, opts: buildOptions(opts)}
}

func (l *TemplateLibrary) load(ctx context.Context, clinic string) (map[string]FormTemplate, error) {
	data, err := l.store.Get(ctx, templatesPath(clinic))
	if errors.Is(err, docstore.ErrNotFound) {
		return map[string]FormTemplate{}, nil
	}
	if err != nil {
		return nil, storeUnavailable("load templates", err)
	}
	return decodeTemplates(data)
}

func decodeTemplates(data json.RawMessage) (map[string]FormTemplate, error) {
	templates := map[string]FormTemplate{}
	if err := json.Unmarshal(data, &templates); err != nil {
		return nil, storeUnavailable("decode templates", err)
	}
	if templates == nil {
		templates = map[string]FormTemplate{}
	}
	return templates, nil
}

// update applies fn to a fresh copy of the aggregate and writes it back when
// fn reports a change.
func (l *TemplateLibrary) update(ctx context.Context, clinic string, fn func(map[string]FormTemplate) (bool, error)) error {
	clinic, err := NormalizeClinicID(clinic)
	if err != nil {
		return err
	}
	templates, err := l.load(ctx, clinic)
	if err != nil {
		return err
	}
	changed, err := fn(templates)
	if err != nil || !changed {
		return err
	}
	if err := docstore.PutJSON(ctx, l.store, templatesPath(clinic), templates); err != nil {
		return storeUnavailable("save templates", err)
	}
	return nil
}

// All returns the aggregate as stored.
func (l *TemplateLibrary) All(ctx context.Context, clinic string) (map[string]FormTemplate, error) {
	clinic, err := NormalizeClinicID(clinic)
	if err != nil {
		return nil, err
	}
	return l.load(ctx, clinic)
}

// List returns every template ordered by creation time.
func (l *TemplateLibrary) List(ctx context.Context, clinic string) ([]FormTemplate, error) {
	templates, err := l.All(ctx, clinic)
	if err != nil {
		return nil, err
	}
	return SortTemplates(templates), nil
}

// SortTemplates flattens an aggregate, oldest first, ties broken by ID.
func SortTemplates(templates map[string]FormTemplate) []FormTemplate {
	out := make([]FormTemplate, 0, len(templates))
	for _, t := range templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (l *TemplateLibrary) Get(ctx context.Context, clinic, templateID string) (FormTemplate, error) {
	templates, err := l.All(ctx, clinic)
	if err != nil {
		return FormTemplate{}, err
	}
	t, ok := templates[templateID]
	if !ok {
		return FormTemplate{}, ErrInvalidTemplate
	}
	return t, nil
}

// Watch delivers the aggregate now and after every change. An absent
// aggregate is delivered as an empty map.
func (l *TemplateLibrary) Watch(ctx context.Context, clinic string, fn func(map[string]FormTemplate)) (docstore.Subscription, error) {
	clinic, err := NormalizeClinicID(clinic)
	if err != nil {
		return nil, err
	}
	sub, err := l.store.SubscribeDoc(ctx, templatesPath(clinic), func(snap docstore.DocSnapshot) {
		if !snap.Exists {
			fn(map[string]FormTemplate{})
			return
		}
		templates, err := decodeTemplates(snap.Data)
		if err != nil {
			return
		}
		fn(templates)
	})
	if err != nil {
		return nil, storeUnavailable("watch templates", err)
	}
	return sub, nil
}

func (l *TemplateLibrary) CreateTemplate(ctx context.Context, clinic, name string) (FormTemplate, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return FormTemplate{}, invalidInput("template name is required")
	}
	t := FormTemplate{
		ID:        util.NewID("form"),
		Name:      name,
		Fields:    []FieldSpec{},
		CreatedAt: l.opts.nowMillis(),
	}
	err := l.update(ctx, clinic, func(templates map[string]FormTemplate) (bool, error) {
		templates[t.ID] = t
		return true, nil
	})
	if err != nil {
		return FormTemplate{}, err
	}
	return t, nil
}

// AddField appends a field to the template and returns it with its new ID.
func (l *TemplateLibrary) AddField(ctx context.Context, clinic, templateID string, field FieldSpec) (FieldSpec, error) {
	field.Label = strings.TrimSpace(field.Label)
	if field.Label == "" {
		return FieldSpec{}, invalidInput("field label is required")
	}
	if !field.Type.Valid() {
		return FieldSpec{}, invalidInput("unknown field type %q", field.Type)
	}
	field.ID = util.NewID("f")

	err := l.update(ctx, clinic, func(templates map[string]FormTemplate) (bool, error) {
		t, ok := templates[templateID]
		if !ok {
			return false, ErrInvalidTemplate
		}
		t = t.Clone()
		t.Fields = append(t.Fields, field)
		templates[templateID] = t
		return true, nil
	})
	if err != nil {
		return FieldSpec{}, err
	}
	return field, nil
}

// RemoveField drops the field at index. An index outside the current field
// list changes nothing.
func (l *TemplateLibrary) RemoveField(ctx context.Context, clinic, templateID string, index int) error {
	return l.update(ctx, clinic, func(templates map[string]FormTemplate) (bool, error) {
		t, ok := templates[templateID]
		if !ok {
			return false, ErrInvalidTemplate
		}
		if index < 0 || index >= len(t.Fields) {
			return false, nil
		}
		t = t.Clone()
		t.Fields = append(t.Fields[:index], t.Fields[index+1:]...)
		templates[templateID] = t
		return true, nil
	})
}

// RemoveFieldByID drops the field with the given ID, if present. Unlike
// RemoveField it is safe to retry.
func (l *TemplateLibrary) RemoveFieldByID(ctx context.Context, clinic, templateID, fieldID string) error {
	return l.update(ctx, clinic, func(templates map[string]FormTemplate) (bool, error) {
		t, ok := templates[templateID]
		if !ok {
			return false, ErrInvalidTemplate
		}
		for i, f := range t.Fields {
			if f.ID == fieldID {
				t = t.Clone()
				t.Fields = append(t.Fields[:i], t.Fields[i+1:]...)
				templates[templateID] = t
				return true, nil
			}
		}
		return false, nil
	})
}

// DeleteTemplate removes a template. Sessions already created from it keep
// their own copy. A template carrying a delete passcode is only removed when
// passcode matches it.
func (l *TemplateLibrary) DeleteTemplate(ctx context.Context, clinic, templateID, passcode string) error {
	return l.update(ctx, clinic, func(templates map[string]FormTemplate) (bool, error) {
		t, ok := templates[templateID]
		if !ok {
			return false, nil
		}
		if t.DeletePasscode != "" && t.DeletePasscode != passcode {
			l.opts.observer.PasscodeRejected(RoleDesigner)
			return false, ErrPasscodeMismatch
		}
		delete(templates, templateID)
		return true, nil
	})
}
