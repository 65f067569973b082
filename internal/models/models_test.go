package models

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

// gormTag extracts the gorm tag from a struct field.
func gormTag(t *testing.T, typ reflect.Type, fieldName string) string {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	return f.Tag.Get("gorm")
}

// assertGormTag checks that a struct field's gorm tag contains the expected value.
func assertGormTag(t *testing.T, typ reflect.Type, fieldName, expected string) {
	t.Helper()
	tag := gormTag(t, typ, fieldName)
	if !strings.Contains(tag, expected) {
		t.Errorf("%s.%s gorm tag = %q, want to contain %q", typ.Name(), fieldName, tag, expected)
	}
}

// assertFieldType checks that a struct field has the expected Go type.
func assertFieldType(t *testing.T, typ reflect.Type, fieldName, expectedType string) {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	got := f.Type.String()
	if got != expectedType {
		t.Errorf("%s.%s type = %q, want %q", typ.Name(), fieldName, got, expectedType)
	}
}

func TestParticipant_Fields(t *testing.T) {
	typ := reflect.TypeOf(Participant{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "ID", "size:36")
	assertGormTag(t, typ, "Name", "not null")
	assertGormTag(t, typ, "Name", "uniqueIndex")
	assertGormTag(t, typ, "Step", "default:introduction")
	for _, f := range []string{"ThreeWords", "Fit", "Bias", "Feel", "AfterThreeWords", "IsUseful"} {
		assertGormTag(t, typ, f, "type:text")
	}
	assertFieldType(t, typ, "CompletedAt", "*time.Time")
	assertFieldType(t, typ, "CreatedAt", "time.Time")
}

func TestParticipant_Relations(t *testing.T) {
	typ := reflect.TypeOf(Participant{})
	assertFieldType(t, typ, "Turns", "[]models.Turn")
	assertGormTag(t, typ, "Turns", "foreignKey:ParticipantID")
}

func TestTurn_Fields(t *testing.T) {
	typ := reflect.TypeOf(Turn{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "ID", "autoIncrement")
	assertGormTag(t, typ, "ParticipantID", "index")
	assertGormTag(t, typ, "ParticipantID", "size:36")
	assertGormTag(t, typ, "Speaker", "size:8")
	assertGormTag(t, typ, "Text", "type:text")
	assertGormTag(t, typ, "ImageURLs", "type:text")
	assertGormTag(t, typ, "ImageURL", "size:512")
	assertFieldType(t, typ, "ID", "uint")
}

func TestContextDocument_Fields(t *testing.T) {
	typ := reflect.TypeOf(ContextDocument{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "ParticipantID", "index")
	assertGormTag(t, typ, "Name", "size:255")
	assertGormTag(t, typ, "StoredPath", "not null")
	assertGormTag(t, typ, "ClearedAt", "index")
	assertFieldType(t, typ, "Size", "int64")
	assertFieldType(t, typ, "ClearedAt", "*time.Time")
}

func TestParticipant_Instantiation(t *testing.T) {
	now := time.Now()
	p := Participant{
		ID:          "3f6c2a1e-0000-4000-8000-000000000001",
		Name:        "ada",
		Step:        StepChat,
		ThreeWords:  "kind curious honest",
		CompletedAt: &now,
		Turns:       []Turn{{Speaker: SpeakerHuman, Text: "hi"}},
	}
	if p.Step != "chat" {
		t.Errorf("Step = %q, want chat", p.Step)
	}
	if len(p.Turns) != 1 || p.Turns[0].Speaker != "human" {
		t.Errorf("Turns = %+v", p.Turns)
	}
}

func TestSteps_Distinct(t *testing.T) {
	steps := []string{
		StepIntroduction, StepThreeWords, StepImagePrompt, StepFitQuestion,
		StepBiasQuestion, StepDiverseImage, StepDiversityQuestion, StepChat,
		StepFinalThreeWords, StepIsUseful, StepRecorded,
	}
	seen := make(map[string]bool)
	for _, s := range steps {
		if s == "" || strings.ContainsAny(s, " -") {
			t.Errorf("step %q should be a snake_case word", s)
		}
		if seen[s] {
			t.Errorf("duplicate step %q", s)
		}
		seen[s] = true
	}
}

func TestSpeakers(t *testing.T) {
	if SpeakerHuman != "human" || SpeakerAI != "ai" {
		t.Errorf("speakers = %q/%q, want human/ai", SpeakerHuman, SpeakerAI)
	}
}

func TestContextDocument_Active(t *testing.T) {
	var d ContextDocument
	if !d.Active() {
		t.Error("new document should be active")
	}
	now := time.Now()
	d.ClearedAt = &now
	if d.Active() {
		t.Error("cleared document should not be active")
	}
}
