package intake

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestCreateTemplateAndAddFields(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	tmpl, err := e.Templates.CreateTemplate(ctx, "smile", "New Patient")
	if err != nil {
		t.Fatalf("CreateTemplate failed: %v", err)
	}
	if !strings.HasPrefix(tmpl.ID, "form_") {
		t.Errorf("expected form_ prefix, got %s", tmpl.ID)
	}
	if tmpl.DeletePasscode != "" || len(tmpl.Fields) != 0 {
		t.Errorf("unexpected new template %+v", tmpl)
	}

	field, err := e.Templates.AddField(ctx, "smile", tmpl.ID, FieldSpec{Label: " Allergies ", Type: FieldCheckbox, Options: "Latex,Penicillin"})
	if err != nil {
		t.Fatalf("AddField failed: %v", err)
	}
	if !strings.HasPrefix(field.ID, "f_") || field.Label != "Allergies" {
		t.Errorf("unexpected field %+v", field)
	}
	if _, err := e.Templates.AddField(ctx, "smile", tmpl.ID, FieldSpec{Label: "Notes", Type: FieldLongNote}); err != nil {
		t.Fatalf("AddField failed: %v", err)
	}

	got, err := e.Templates.Get(ctx, "smile", tmpl.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got.Fields) != 2 || got.Fields[0].Label != "Allergies" || got.Fields[1].Label != "Notes" {
		t.Errorf("unexpected fields %+v", got.Fields)
	}
	if got.Fields[1].Options != "" {
		t.Errorf("expected empty default options, got %q", got.Fields[1].Options)
	}
}

func TestAddFieldValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	tmpl := mustTemplate(t, e, "smile", "Form")

	if _, err := e.Templates.AddField(ctx, "smile", tmpl.ID, FieldSpec{Label: "X", Type: "slider"}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("unknown type: got %v", err)
	}
	if _, err := e.Templates.AddField(ctx, "smile", tmpl.ID, FieldSpec{Label: "  ", Type: FieldText}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("blank label: got %v", err)
	}
	if _, err := e.Templates.AddField(ctx, "smile", "form_missing", FieldSpec{Label: "X", Type: FieldText}); !errors.Is(err, ErrInvalidTemplate) {
		t.Errorf("missing template: got %v", err)
	}
	if _, err := e.Templates.CreateTemplate(ctx, "smile", " "); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("blank template name: got %v", err)
	}
}

func TestListOrdersByCreation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	for _, name := range []string{"First", "Second", "Third"} {
		mustTemplate(t, e, "smile", name)
	}
	list, err := e.Templates.List(ctx, "smile")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 3 || list[0].Name != "First" || list[2].Name != "Third" {
		t.Errorf("unexpected order %+v", list)
	}

	empty, err := e.Templates.List(ctx, "other")
	if err != nil || len(empty) != 0 {
		t.Errorf("expected empty list for unknown clinic, got %v %v", empty, err)
	}
}

func TestRemoveFieldTwiceKeepsOrder(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	tmpl := mustTemplate(t, e, "smile", "Form",
		FieldSpec{Label: "A", Type: FieldText},
		FieldSpec{Label: "B", Type: FieldText},
		FieldSpec{Label: "C", Type: FieldText},
	)

	if err := e.Templates.RemoveField(ctx, "smile", tmpl.ID, 1); err != nil {
		t.Fatalf("RemoveField failed: %v", err)
	}
	got, _ := e.Templates.Get(ctx, "smile", tmpl.ID)
	if labels := FieldLabels(got.Fields); strings.Join(labels, ",") != "A,C" {
		t.Fatalf("after first removal got %v", labels)
	}

	// The second call at the same index hits C, then the list is A.
	if err := e.Templates.RemoveField(ctx, "smile", tmpl.ID, 1); err != nil {
		t.Fatalf("RemoveField failed: %v", err)
	}
	if err := e.Templates.RemoveField(ctx, "smile", tmpl.ID, 1); err != nil {
		t.Fatalf("out of range RemoveField failed: %v", err)
	}
	if err := e.Templates.RemoveField(ctx, "smile", tmpl.ID, -1); err != nil {
		t.Fatalf("negative RemoveField failed: %v", err)
	}
	got, _ = e.Templates.Get(ctx, "smile", tmpl.ID)
	if labels := FieldLabels(got.Fields); strings.Join(labels, ",") != "A" {
		t.Errorf("expected only A to remain, got %v", labels)
	}
}

func TestRemoveFieldByIDIsIdempotent(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	tmpl := mustTemplate(t, e, "smile", "Form",
		FieldSpec{Label: "A", Type: FieldText},
		FieldSpec{Label: "B", Type: FieldText},
		FieldSpec{Label: "C", Type: FieldText},
	)
	target := tmpl.Fields[1].ID

	for i := 0; i < 2; i++ {
		if err := e.Templates.RemoveFieldByID(ctx, "smile", tmpl.ID, target); err != nil {
			t.Fatalf("RemoveFieldByID #%d failed: %v", i+1, err)
		}
	}
	got, _ := e.Templates.Get(ctx, "smile", tmpl.ID)
	if labels := FieldLabels(got.Fields); strings.Join(labels, ",") != "A,C" {
		t.Errorf("expected A,C, got %v", labels)
	}
}

func TestDeleteTemplate(t *testing.T) {
	obs := &countingObserver{}
	e, store := newTestEngine(t, WithObserver(obs))
	ctx := context.Background()
	open := mustTemplate(t, e, "smile", "Open")
	locked := mustTemplate(t, e, "smile", "Locked")

	// Install a delete passcode directly, the way a seed file would.
	all, _ := e.Templates.All(ctx, "smile")
	l := all[locked.ID]
	l.DeletePasscode = "9999"
	all[locked.ID] = l
	if err := putTemplates(ctx, store, "smile", all); err != nil {
		t.Fatalf("put templates: %v", err)
	}

	if err := e.Templates.DeleteTemplate(ctx, "smile", open.ID, ""); err != nil {
		t.Fatalf("DeleteTemplate failed: %v", err)
	}
	if err := e.Templates.DeleteTemplate(ctx, "smile", open.ID, ""); err != nil {
		t.Fatalf("deleting an absent template should succeed: %v", err)
	}
	if err := e.Templates.DeleteTemplate(ctx, "smile", locked.ID, "0000"); !errors.Is(err, ErrPasscodeMismatch) {
		t.Fatalf("expected passcode mismatch, got %v", err)
	}
	if err := e.Templates.DeleteTemplate(ctx, "smile", locked.ID, "9999"); err != nil {
		t.Fatalf("DeleteTemplate with passcode failed: %v", err)
	}

	list, _ := e.Templates.List(ctx, "smile")
	if len(list) != 0 {
		t.Errorf("expected no templates left, got %d", len(list))
	}
	if obs.rejected[RoleDesigner] != 1 {
		t.Errorf("expected one rejected designer passcode, got %v", obs.rejected)
	}
}

func TestTemplateWatch(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	updates := make(chan map[string]FormTemplate, 8)
	sub, err := e.Templates.Watch(ctx, "smile", func(m map[string]FormTemplate) { updates <- m })
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer sub.Close()

	if first := <-updates; len(first) != 0 {
		t.Fatalf("expected empty aggregate first, got %v", first)
	}
	tmpl := mustTemplate(t, e, "smile", "Form")
	timeout := time.After(2 * time.Second)
	for {
		select {
		case m := <-updates:
			if _, ok := m[tmpl.ID]; ok {
				return
			}
		case <-timeout:
			t.Fatal("template never reached the watcher")
		}
	}
}

func TestSeeds(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	seeds, err := ParseSeeds(strings.NewReader(`
- name: General Intake
  fields:
    - label: Full Name
      type: text
    - label: Pain Level
      type: pain_scale
- name: Hygiene Recall
  deletePasscode: "4321"
  fields:
    - label: Bleeding gums
      type: radio
      options: Never, Sometimes, Often
`))
	if err != nil {
		t.Fatalf("ParseSeeds failed: %v", err)
	}
	if len(seeds) != 2 {
		t.Fatalf("expected 2 seeds, got %d", len(seeds))
	}

	n, err := e.Templates.Seed(ctx, "smile", seeds)
	if err != nil || n != 2 {
		t.Fatalf("Seed = %d, %v", n, err)
	}
	list, _ := e.Templates.List(ctx, "smile")
	if len(list) != 2 || list[0].Name != "General Intake" || list[1].DeletePasscode != "4321" {
		t.Fatalf("unexpected seeded templates %+v", list)
	}
	if len(list[0].Fields) != 2 || list[0].Fields[1].Type != FieldPainScale {
		t.Errorf("unexpected seeded fields %+v", list[0].Fields)
	}

	n, err = e.Templates.Seed(ctx, "smile", seeds)
	if err != nil || n != 0 {
		t.Errorf("seeding a non-empty clinic should do nothing, got %d, %v", n, err)
	}
}

func TestParseSeedsRejectsBadFields(t *testing.T) {
	_, err := ParseSeeds(strings.NewReader(`
- name: Broken
  fields:
    - label: Mood
      type: emoji
`))
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}

	seeds, err := ParseSeeds(strings.NewReader(""))
	if err != nil || len(seeds) != 0 {
		t.Errorf("empty file should parse to no seeds, got %v %v", seeds, err)
	}
}

func TestTemplateMutationSurfacesStoreFailure(t *testing.T) {
	base, _ := newTestEngine(t)
	store := &faultyStore{Store: base.Templates.store, putFn: func(string) error { return errors.New("connection reset") }}
	e := New(store)

	if _, err := e.Templates.CreateTemplate(context.Background(), "smile", "Form"); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
}
