package analyze

import (
	"strings"

	"github.com/floraworks/florapost/internal/flower"
)

// Aggregate folds per-image findings into one FlowerProfile:
//
//   - species: the most frequent label; ties resolved by earliest image in
//     request order (order is part of the request contract)
//   - colors, meanings, gift occasions: the union across images, first
//     occurrence wins the casing, duplicates compared case-insensitively
//   - season: kept only when every image agrees, otherwise "mixed"
//   - care tips / decoration ideas: taken from the first image whose
//     species matches the majority label
func Aggregate(findings []flower.ImageFindings) flower.FlowerProfile {
	if len(findings) == 0 {
		return flower.FlowerProfile{}
	}

	species := majoritySpecies(findings)

	profile := flower.FlowerProfile{
		Species:       species,
		Colors:        unionTags(findings, func(f flower.ImageFindings) []string { return f.Colors }),
		Meanings:      unionTags(findings, func(f flower.ImageFindings) []string { return f.Meanings }),
		GiftOccasions: unionTags(findings, func(f flower.ImageFindings) []string { return f.GiftOccasions }),
		Season:        agreedSeason(findings),
	}

	for _, f := range findings {
		if !strings.EqualFold(f.Species, species) {
			continue
		}
		if profile.ScientificName == "" {
			profile.ScientificName = f.ScientificName
		}
		if profile.CareTips == "" {
			profile.CareTips = f.CareTips
		}
		if profile.DecorationIdeas == "" {
			profile.DecorationIdeas = f.DecorationIdeas
		}
	}
	return profile
}

// majoritySpecies returns the most frequent species label, compared
// case-insensitively. On a tie the label seen earliest wins.
func majoritySpecies(findings []flower.ImageFindings) string {
	counts := make(map[string]int)
	first := make(map[string]int)
	display := make(map[string]string)

	for i, f := range findings {
		key := strings.ToLower(strings.TrimSpace(f.Species))
		if key == "" {
			continue
		}
		if _, seen := counts[key]; !seen {
			first[key] = i
			display[key] = strings.TrimSpace(f.Species)
		}
		counts[key]++
	}

	best := ""
	for key := range counts {
		if best == "" {
			best = key
			continue
		}
		if counts[key] > counts[best] || (counts[key] == counts[best] && first[key] < first[best]) {
			best = key
		}
	}
	return display[best]
}

// unionTags collects the union of a tag list across all findings,
// preserving first-seen order and casing.
func unionTags(findings []flower.ImageFindings, get func(flower.ImageFindings) []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, f := range findings {
		for _, tag := range get(f) {
			tag = strings.TrimSpace(tag)
			if tag == "" {
				continue
			}
			key := strings.ToLower(tag)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, tag)
		}
	}
	return out
}

// agreedSeason returns the shared season tag when every image carries the
// same one; any disagreement, including a missing tag, yields "mixed".
func agreedSeason(findings []flower.ImageFindings) string {
	season := strings.ToLower(strings.TrimSpace(findings[0].Season))
	if season == "" {
		return "mixed"
	}
	for _, f := range findings[1:] {
		if !strings.EqualFold(strings.TrimSpace(f.Season), season) {
			return "mixed"
		}
	}
	return season
}
