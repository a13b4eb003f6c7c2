// Package publish contains the per-platform publishers and the registry the
// pipeline fans out over. Each publisher is independent: it receives the
// generated content plus presigned media URLs and returns the platform post
// ID, classifying failures so the retry layer knows what is worth retrying.
package publish

import (
	"context"
	"sort"

	"github.com/floraworks/florapost/internal/flower"
)

// Job is the input handed to a publisher for one platform attempt. All fields
// are read-only from the publisher's point of view.
type Job struct {
	RunID     string
	Content   flower.GeneratedContent
	Profile   flower.FlowerProfile
	ImageURLs []string // presigned GET URLs, in submission order
	VideoURL  string   // presigned GET URL; empty when no video was rendered
}

// Result identifies the published post on the target platform.
type Result struct {
	PostID string
	URL    string
}

// Publisher publishes generated content to a single platform.
type Publisher interface {
	// Platform returns the platform this publisher serves.
	Platform() flower.Platform

	// RequiresVideo reports whether this publisher cannot run without a
	// rendered video.
	RequiresVideo() bool

	// Publish performs a single publish attempt. Failures should be returned
	// as *flower.PublishError so the retry layer can classify them.
	Publish(ctx context.Context, job Job) (*Result, error)
}

// Registry holds the configured publishers keyed by platform.
type Registry struct {
	publishers map[flower.Platform]Publisher
}

// NewRegistry builds a registry from the given publishers. A duplicate
// platform registration replaces the earlier one.
func NewRegistry(pubs ...Publisher) *Registry {
	r := &Registry{publishers: make(map[flower.Platform]Publisher, len(pubs))}
	for _, p := range pubs {
		r.publishers[p.Platform()] = p
	}
	return r
}

// Get returns the publisher for a platform.
func (r *Registry) Get(platform flower.Platform) (Publisher, bool) {
	p, ok := r.publishers[platform]
	return p, ok
}

// Platforms returns the registered platforms in stable order.
func (r *Registry) Platforms() []flower.Platform {
	out := make([]flower.Platform, 0, len(r.publishers))
	for p := range r.publishers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
