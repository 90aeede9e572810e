package stealth

import (
	"strings"
	"testing"
)

func TestProfileDeterministic(t *testing.T) {
	a := New(42)
	b := New(42)
	if a.UserAgent != b.UserAgent || a.ViewportWidth != b.ViewportWidth ||
		a.Timezone != b.Timezone || a.NoiseSeed != b.NoiseSeed {
		t.Errorf("same seed produced different profiles:\n%+v\n%+v", a, b)
	}
}

func TestProfilesVaryAcrossSeeds(t *testing.T) {
	seen := map[string]bool{}
	for seed := int64(0); seed < 50; seed++ {
		p := New(seed)
		seen[p.UserAgent] = true
	}
	if len(seen) < 2 {
		t.Error("expected different seeds to cover more than one user agent")
	}
}

func TestProfileValuesFromKnownSets(t *testing.T) {
	p := New(7)
	found := false
	for _, ua := range userAgents {
		if p.UserAgent == ua {
			found = true
		}
	}
	if !found {
		t.Errorf("user agent %q not from the known set", p.UserAgent)
	}
	if p.ViewportWidth < p.ViewportHeight {
		t.Errorf("unrealistic viewport %dx%d", p.ViewportWidth, p.ViewportHeight)
	}
	if len(p.Languages) == 0 {
		t.Error("profile has no languages")
	}
}

func TestScriptGuardsAgainstDoublePatching(t *testing.T) {
	s := New(1).Script()
	if !strings.Contains(s, "__fw_masked") {
		t.Error("script is missing the idempotency guard")
	}
	// the guard check must come before any patching
	guard := strings.Index(s, "if (window.__fw_masked)")
	patch := strings.Index(s, "webdriver")
	if guard == -1 || patch == -1 || guard > patch {
		t.Error("guard does not precede the navigator patches")
	}
}

func TestScriptCarriesProfileValues(t *testing.T) {
	p := New(3)
	s := p.Script()
	if !strings.Contains(s, p.Languages[0]) {
		t.Errorf("script does not reference primary language %q", p.Languages[0])
	}
	if !strings.Contains(s, "getImageData") || !strings.Contains(s, "getParameter") {
		t.Error("script is missing canvas/WebGL patches")
	}
}
