package skills

import (
	"context"
	"testing"
)

func TestHasSkillsRequiresFullCoverage(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(NewMemoryStore())

	if err := d.Declare(ctx, Profile{Subject: 1, Area: 4, Category: 2, Skills: 0b1011}); err != nil {
		t.Fatalf("Declare: %v", err)
	}

	cases := []struct {
		name     string
		required uint64
		want     bool
	}{
		{"exact", 0b1011, true},
		{"subset", 0b0011, true},
		{"single", 0b1000, true},
		{"missing bit", 0b0100, false},
		{"superset", 0b1111, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := d.HasSkills(ctx, 1, 4, 2, tc.required)
			if err != nil {
				t.Fatalf("HasSkills: %v", err)
			}
			if got != tc.want {
				t.Errorf("HasSkills(%#b) = %v, want %v", tc.required, got, tc.want)
			}
		})
	}
}

func TestHasSkillsScopedByAreaAndCategory(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(NewMemoryStore())

	if err := d.Declare(ctx, Profile{Subject: 1, Area: 4, Category: 2, Skills: 0b111}); err != nil {
		t.Fatalf("Declare: %v", err)
	}
	if ok, _ := d.HasSkills(ctx, 1, 8, 2, 0b1); ok {
		t.Error("skills leaked across areas")
	}
	if ok, _ := d.HasSkills(ctx, 1, 4, 1, 0b1); ok {
		t.Error("skills leaked across categories")
	}
	if ok, _ := d.HasSkills(ctx, 2, 4, 2, 0b1); ok {
		t.Error("skills leaked across subjects")
	}
}

func TestDeclareValidatesClassifiers(t *testing.T) {
	ctx := context.Background()
	d := NewDirectory(NewMemoryStore())

	if err := d.Declare(ctx, Profile{Subject: 1, Area: 3, Category: 2, Skills: 1}); err == nil {
		t.Error("multi-flag area accepted")
	}
	if err := d.Declare(ctx, Profile{Subject: 1, Area: 4, Category: 0, Skills: 1}); err == nil {
		t.Error("empty category accepted")
	}
	if err := d.Declare(ctx, Profile{Subject: 1, Area: 4, Category: 2, Skills: 0}); err == nil {
		t.Error("empty skills accepted")
	}
}
