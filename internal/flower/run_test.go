package flower

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to RunState
		want     bool
	}{
		{StateAccepted, StateAnalyzing, true},
		{StateAnalyzing, StateGenerating, true},
		{StateAnalyzing, StateFailed, true},
		{StateAnalyzing, StatePublishing, false},
		{StateGenerating, StateRendering, true},
		{StateGenerating, StatePublishing, true},
		{StateRendering, StatePublishing, true},
		{StateRendering, StateFailed, true},
		{StatePublishing, StateCompleted, true},
		{StatePublishing, StatePartiallyFailed, true},
		{StatePublishing, StateFailed, true},
		{StateCompleted, StatePublishing, false},
		{StateFailed, StateAnalyzing, false},
		{StateCancelled, StateAccepted, false},
		{StateAccepted, StateCancelled, true},
		{StatePublishing, StateCancelled, true},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	terminal := []RunState{StateCompleted, StatePartiallyFailed, StateFailed, StateCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
		if len(transitions[s]) != 0 {
			t.Errorf("terminal state %s has outgoing transitions", s)
		}
	}
	active := []RunState{StateAccepted, StateAnalyzing, StateGenerating, StateRendering, StatePublishing}
	for _, s := range active {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestRequestValidate(t *testing.T) {
	valid := ContentRequest{
		ImageKeys: []string{"r/1.jpg"},
		Platforms: []Platform{PlatformBlog},
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid request rejected: %v", err)
	}

	noImages := ContentRequest{Platforms: []Platform{PlatformBlog}}
	if err := noImages.Validate(); err == nil {
		t.Error("expected error for request without images")
	}

	noPlatforms := ContentRequest{ImageKeys: []string{"r/1.jpg"}}
	if err := noPlatforms.Validate(); err == nil {
		t.Error("expected error for request without platforms")
	}

	badPlatform := ContentRequest{
		ImageKeys: []string{"r/1.jpg"},
		Platforms: []Platform{"myspace"},
	}
	if err := badPlatform.Validate(); err == nil {
		t.Error("expected error for unknown platform")
	}

	dup := ContentRequest{
		ImageKeys: []string{"r/1.jpg"},
		Platforms: []Platform{PlatformBlog, PlatformBlog},
	}
	if err := dup.Validate(); err == nil {
		t.Error("expected error for duplicate platform")
	}
}

func TestPublishErrorRetryable(t *testing.T) {
	transient := &PublishError{Platform: PlatformBlog, Kind: FailTransient, Reason: "503"}
	if !transient.Retryable() {
		t.Error("transient failure should be retryable")
	}
	auth := &PublishError{Platform: PlatformBlog, Kind: FailAuth, Reason: "bad token"}
	if auth.Retryable() {
		t.Error("auth failure must not be retryable")
	}
	rejected := &PublishError{Platform: PlatformSocialImage, Kind: FailRejected, Reason: "policy"}
	if rejected.Retryable() {
		t.Error("content-rejected failure must not be retryable")
	}
}
