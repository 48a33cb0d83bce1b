package registry

import (
	"context"
	"testing"

	"apk-portal/internal/apperr"
	"apk-portal/internal/testutil"
)

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Sales App":        "sales-app",
		"  POS -- App!! ":  "pos-app",
		"Field_Tool v2.0":  "field-tool-v2-0",
		"***":              "app",
		"":                 "app",
		"영업 앱":             "app",
		"Already-a-slug":   "already-a-slug",
		"--trim--hyphens-": "trim-hyphens",
	}
	for in, want := range cases {
		if got := Slugify(in); got != want {
			t.Errorf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRegistry_Create(t *testing.T) {
	reg := New(testutil.NewDB(t))
	ctx := context.Background()

	app, err := reg.Create(ctx, AppInput{Name: " Sales App ", Description: "field app", Active: true})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if app.Name != "Sales App" || app.Slug != "sales-app" || !app.IsActive {
		t.Errorf("Unexpected application: %+v", app)
	}

	found, err := reg.FindBySlug(ctx, "sales-app")
	if err != nil {
		t.Fatalf("FindBySlug failed: %v", err)
	}
	if found.ID != app.ID {
		t.Errorf("Expected id %d, got %d", app.ID, found.ID)
	}
}

func TestRegistry_Create_Validation(t *testing.T) {
	reg := New(testutil.NewDB(t))

	_, err := reg.Create(context.Background(), AppInput{Name: "   "})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("Expected Validation for empty name, got %v", err)
	}
}

func TestRegistry_Create_Conflict(t *testing.T) {
	reg := New(testutil.NewDB(t))
	ctx := context.Background()

	if _, err := reg.Create(ctx, AppInput{Name: "POS App", Active: true}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Same name
	_, err := reg.Create(ctx, AppInput{Name: "POS App", Slug: "other"})
	if !apperr.Is(err, apperr.KindConflict) {
		t.Errorf("Expected Conflict for duplicate name, got %v", err)
	}

	// Different name, same derived slug
	_, err = reg.Create(ctx, AppInput{Name: "pos app!"})
	if !apperr.Is(err, apperr.KindConflict) {
		t.Errorf("Expected Conflict for duplicate slug, got %v", err)
	}
}

func TestRegistry_Update(t *testing.T) {
	reg := New(testutil.NewDB(t))
	ctx := context.Background()

	a, _ := reg.Create(ctx, AppInput{Name: "Alpha", Active: true})
	b, _ := reg.Create(ctx, AppInput{Name: "Beta", Active: true})

	updated, err := reg.Update(ctx, a.ID, AppInput{Name: "Alpha", Slug: "alpha-tool", Active: false})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Slug != "alpha-tool" || updated.IsActive {
		t.Errorf("Unexpected update result: %+v", updated)
	}

	reloaded, _ := reg.Find(ctx, a.ID)
	if reloaded.IsActive {
		t.Error("Active flag should be persisted as false")
	}

	// Renaming onto another application's slug
	_, err = reg.Update(ctx, a.ID, AppInput{Name: "Alpha", Slug: b.Slug})
	if !apperr.Is(err, apperr.KindConflict) {
		t.Errorf("Expected Conflict, got %v", err)
	}

	// Keeping its own name and slug is not a conflict
	if _, err := reg.Update(ctx, b.ID, AppInput{Name: "Beta", Active: true}); err != nil {
		t.Errorf("Self update should succeed: %v", err)
	}

	_, err = reg.Update(ctx, 999, AppInput{Name: "Ghost"})
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("Expected NotFound, got %v", err)
	}
}

func TestRegistry_List(t *testing.T) {
	reg := New(testutil.NewDB(t))
	ctx := context.Background()

	reg.Create(ctx, AppInput{Name: "Charlie", Active: true})
	reg.Create(ctx, AppInput{Name: "Alpha", Active: true})
	reg.Create(ctx, AppInput{Name: "Bravo", Active: false})

	all, err := reg.List(ctx, false)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 || all[0].Name != "Alpha" {
		t.Errorf("Expected 3 apps sorted by name, got %+v", all)
	}

	active, _ := reg.List(ctx, true)
	if len(active) != 2 {
		t.Errorf("Expected 2 active apps, got %d", len(active))
	}

	n, _ := reg.Count(ctx)
	if n != 3 {
		t.Errorf("Expected count 3, got %d", n)
	}
}
