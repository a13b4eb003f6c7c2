// Package content turns an AnalysisResult into the platform-shaped text
// artifacts: a sectioned blog post, a short caption, and a bounded hashtag
// set. Generation is a pure function of the analysis, with no I/O, so
// publishers can never observe a half-built artifact.
package content

import (
	"fmt"
	"strings"

	"github.com/floraworks/florapost/internal/flower"
)

const (
	// MaxHashtags caps the hashtag set (the image feed's own limit).
	MaxHashtags = 30

	// maxCaptionLen bounds the social caption.
	maxCaptionLen = 300
)

// baseHashtags are always appended after the derived tags, matching what the
// flower accounts this feeds actually use.
var baseHashtags = []string{
	"flowers", "flowerstagram", "floristry", "bloom", "flowersofinstagram",
}

// Generate derives GeneratedContent from an analysis result. It fails only
// with a GenerationError on an empty or invalid analysis; given a valid
// AnalysisResult it always succeeds.
func Generate(analysis *flower.AnalysisResult, req flower.ContentRequest) (*flower.GeneratedContent, error) {
	if analysis == nil || len(analysis.Images) == 0 {
		return nil, &flower.GenerationError{Reason: "empty analysis result"}
	}
	profile := analysis.Profile
	if profile.Species == "" {
		return nil, &flower.GenerationError{Reason: "analysis profile has no species"}
	}

	title := req.Title
	if title == "" {
		title = blogTitle(profile)
	}

	return &flower.GeneratedContent{
		BlogTitle: title,
		BlogBody:  blogBody(title, profile, req),
		Caption:   caption(profile, req),
		Hashtags:  Hashtags(profile),
	}, nil
}

// blogTitle builds the fallback headline "{Species} — {first meaning}".
func blogTitle(p flower.FlowerProfile) string {
	species := titleCase(p.Species)
	if len(p.Meanings) > 0 {
		return fmt.Sprintf("%s — %s", species, p.Meanings[0])
	}
	return species
}

// blogBody renders the long-form post as simple HTML: a headline followed by
// a fixed section list, skipping sections the profile has no material for.
func blogBody(title string, p flower.FlowerProfile, req flower.ContentRequest) string {
	var b strings.Builder
	species := titleCase(p.Species)

	fmt.Fprintf(&b, "<h1>%s</h1>\n", title)

	intro := fmt.Sprintf("Today's post is all about the %s", strings.ToLower(p.Species))
	if p.ScientificName != "" {
		intro += fmt.Sprintf(" (<em>%s</em>)", p.ScientificName)
	}
	if len(p.Colors) > 0 {
		intro += fmt.Sprintf(", photographed here in %s", joinNatural(p.Colors))
	}
	intro += "."
	if req.Description != "" {
		intro += " " + req.Description
	}
	fmt.Fprintf(&b, "<p>%s</p>\n", intro)

	if len(p.Meanings) > 0 {
		fmt.Fprintf(&b, "<h2>What the %s Means</h2>\n", species)
		fmt.Fprintf(&b, "<p>In the language of flowers, the %s stands for %s.</p>\n",
			strings.ToLower(p.Species), joinNatural(p.Meanings))
	}

	if p.Season != "" && p.Season != "mixed" {
		fmt.Fprintf(&b, "<h2>When to Enjoy It</h2>\n")
		fmt.Fprintf(&b, "<p>The %s is at its best in %s — that is when you will find the fullest blooms.</p>\n",
			strings.ToLower(p.Species), p.Season)
	}

	if p.CareTips != "" {
		fmt.Fprintf(&b, "<h2>Care Tips</h2>\n<p>%s</p>\n", p.CareTips)
	}

	if p.DecorationIdeas != "" {
		fmt.Fprintf(&b, "<h2>Styling and Display</h2>\n<p>%s</p>\n", p.DecorationIdeas)
	}

	if len(p.GiftOccasions) > 0 {
		fmt.Fprintf(&b, "<h2>When to Gift It</h2>\n")
		fmt.Fprintf(&b, "<p>A bouquet of %ss makes a lovely gift for %s.</p>\n",
			strings.ToLower(p.Species), joinNatural(p.GiftOccasions))
	}

	closing := fmt.Sprintf("Thanks for stopping by — may your week be as bright as a fresh %s.",
		strings.ToLower(p.Species))
	if p.CapturedAt != "" {
		closing = fmt.Sprintf("These photographs were taken on %s. %s", p.CapturedAt, closing)
	}
	fmt.Fprintf(&b, "<p>%s</p>\n", closing)

	return b.String()
}

// caption builds the short social caption, truncated on a word boundary to
// stay inside maxCaptionLen.
func caption(p flower.FlowerProfile, req flower.ContentRequest) string {
	var parts []string
	if req.Title != "" {
		parts = append(parts, req.Title+".")
	}

	line := titleCase(p.Species)
	if len(p.Colors) > 0 {
		line += " in " + joinNatural(p.Colors)
	}
	parts = append(parts, line+".")

	if len(p.Meanings) > 0 {
		parts = append(parts, fmt.Sprintf("A flower that speaks of %s.", joinNatural(p.Meanings)))
	}
	if p.Season != "" && p.Season != "mixed" {
		parts = append(parts, fmt.Sprintf("Catch it at its best this %s.", p.Season))
	}

	out := strings.Join(parts, " ")
	if len(out) <= maxCaptionLen {
		return out
	}
	cut := strings.LastIndex(out[:maxCaptionLen], " ")
	if cut <= 0 {
		cut = maxCaptionLen
	}
	return strings.TrimRight(out[:cut], " ,.") + "…"
}

// Hashtags derives the bounded hashtag set from species, color, meaning, and
// occasion tags: lower-cased, platform-legal runes only (letters, digits,
// underscore), deduplicated case-insensitively, capped at MaxHashtags.
func Hashtags(p flower.FlowerProfile) []string {
	var candidates []string
	candidates = append(candidates, p.Species, p.Species+"s", p.ScientificName)
	for _, c := range p.Colors {
		candidates = append(candidates, c, c+"flowers")
	}
	candidates = append(candidates, p.Meanings...)
	if p.Season != "" && p.Season != "mixed" {
		candidates = append(candidates, p.Season, p.Season+"blooms")
	}
	candidates = append(candidates, p.GiftOccasions...)
	candidates = append(candidates, baseHashtags...)

	out := make([]string, 0, MaxHashtags)
	seen := make(map[string]bool)
	for _, c := range candidates {
		tag := sanitizeHashtag(c)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
		if len(out) == MaxHashtags {
			break
		}
	}
	return out
}

// sanitizeHashtag lower-cases a tag and strips every rune a platform would
// reject, returning "" when nothing legal remains.
func sanitizeHashtag(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// joinNatural renders a tag list as "a", "a and b", or "a, b and c".
func joinNatural(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	}
	return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
}

// titleCase upper-cases the first rune of each word without touching the rest.
func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		if len(r) > 0 && r[0] >= 'a' && r[0] <= 'z' {
			r[0] = r[0] - 'a' + 'A'
		}
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
