package publish

import (
	"testing"

	"github.com/floraworks/florapost/internal/flower"
)

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry(
		NewDryRunPublisher(flower.PlatformBlog, false),
		NewDryRunPublisher(flower.PlatformSocialVideo, true),
	)

	if _, ok := reg.Get(flower.PlatformBlog); !ok {
		t.Error("blog publisher should be registered")
	}
	if _, ok := reg.Get(flower.PlatformSocialImage); ok {
		t.Error("social-image publisher should not be registered")
	}

	got := reg.Platforms()
	want := []flower.Platform{flower.PlatformBlog, flower.PlatformSocialVideo}
	if len(got) != len(want) {
		t.Fatalf("Platforms() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Platforms()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRegistryDuplicateReplacement(t *testing.T) {
	first := NewDryRunPublisher(flower.PlatformBlog, false)
	second := NewDryRunPublisher(flower.PlatformBlog, false)
	reg := NewRegistry(first, second)

	got, ok := reg.Get(flower.PlatformBlog)
	if !ok || got != second {
		t.Error("later registration should replace the earlier one")
	}
}
