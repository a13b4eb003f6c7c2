package analyze

import (
	"errors"
	"reflect"
	"testing"

	"github.com/floraworks/florapost/internal/flower"
)

func TestAggregateMajoritySpeciesAndColorUnion(t *testing.T) {
	findings := []flower.ImageFindings{
		{Species: "rose", Colors: []string{"red", "white"}, Season: "summer"},
		{Species: "tulip", Colors: []string{"yellow"}, Season: "spring"},
		{Species: "Rose", ScientificName: "Rosa", Colors: []string{"Red", "pink"}, Season: "summer"},
	}

	profile := Aggregate(findings)
	if profile.Species != "rose" {
		t.Errorf("expected majority species rose, got %q", profile.Species)
	}
	wantColors := []string{"red", "white", "yellow", "pink"}
	if !reflect.DeepEqual(profile.Colors, wantColors) {
		t.Errorf("expected color union %v, got %v", wantColors, profile.Colors)
	}
	if profile.ScientificName != "Rosa" {
		t.Errorf("expected scientific name from majority species, got %q", profile.ScientificName)
	}
}

func TestAggregateSpeciesTieBreaksOnRequestOrder(t *testing.T) {
	findings := []flower.ImageFindings{
		{Species: "tulip"},
		{Species: "rose"},
		{Species: "rose"},
		{Species: "tulip"},
	}
	if got := Aggregate(findings).Species; got != "tulip" {
		t.Errorf("tie should resolve to earliest-seen label, got %q", got)
	}
}

func TestAggregateSeason(t *testing.T) {
	agree := []flower.ImageFindings{
		{Species: "peony", Season: "Spring"},
		{Species: "peony", Season: "spring"},
	}
	if got := Aggregate(agree).Season; got != "spring" {
		t.Errorf("expected unanimous season spring, got %q", got)
	}

	disagree := []flower.ImageFindings{
		{Species: "peony", Season: "spring"},
		{Species: "aster", Season: "autumn"},
	}
	if got := Aggregate(disagree).Season; got != "mixed" {
		t.Errorf("expected mixed season, got %q", got)
	}

	missing := []flower.ImageFindings{
		{Species: "peony", Season: "spring"},
		{Species: "peony"},
	}
	if got := Aggregate(missing).Season; got != "mixed" {
		t.Errorf("missing season tag should count as disagreement, got %q", got)
	}
}

func TestAggregateMeaningUnionDeduplicates(t *testing.T) {
	findings := []flower.ImageFindings{
		{Species: "rose", Meanings: []string{"love", "Passion"}},
		{Species: "rose", Meanings: []string{"passion", "devotion"}},
	}
	want := []string{"love", "Passion", "devotion"}
	if got := Aggregate(findings).Meanings; !reflect.DeepEqual(got, want) {
		t.Errorf("expected meanings %v, got %v", want, got)
	}
}

func TestAggregateEmpty(t *testing.T) {
	profile := Aggregate(nil)
	if profile.Species != "" || len(profile.Colors) != 0 {
		t.Errorf("empty findings should yield empty profile, got %+v", profile)
	}
}

func TestParseFindings(t *testing.T) {
	raw := "```json\n{\"species\": \"rose\", \"colors\": [\"red\"], \"meanings\": [\"love\"], \"season\": \"summer\"}\n```"
	f, err := parseFindings(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Species != "rose" || f.Season != "summer" {
		t.Errorf("unexpected findings: %+v", f)
	}

	if _, err := parseFindings("I could not identify the flower."); err == nil {
		t.Error("expected error for non-JSON response")
	}

	var aerr *flower.AnalysisError
	_, err = parseFindings("{\"colors\": [\"red\"]}")
	if err == nil {
		t.Fatal("expected error for missing species")
	}
	if !errors.As(err, &aerr) || aerr.Transient {
		t.Errorf("missing species must be a non-transient AnalysisError, got %v", err)
	}
}
