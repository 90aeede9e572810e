// Package stealth masks the browser fingerprint surfaces that listing
// sites commonly probe: the webdriver flag, navigator properties, canvas
// and WebGL readouts. A profile is a pure function of its seed, so the same
// session always presents the same fingerprint.
package stealth

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
}

var viewports = [][2]int64{
	{1920, 1080},
	{1680, 1050},
	{1536, 864},
	{1440, 900},
	{1366, 768},
}

var timezones = []string{
	"Europe/Berlin",
	"Europe/Vienna",
	"Europe/Zurich",
	"Europe/Amsterdam",
}

var languageSets = [][]string{
	{"de-DE", "de", "en-US", "en"},
	{"de-AT", "de", "en"},
	{"en-US", "en", "de"},
}

var concurrencies = []int{4, 8, 12, 16}

// Profile is a deterministic set of fingerprint values derived from a seed.
type Profile struct {
	Seed                int64
	UserAgent           string
	ViewportWidth       int64
	ViewportHeight      int64
	Timezone            string
	Languages           []string
	HardwareConcurrency int
	NoiseSeed           int64
}

// New derives a profile from seed. The same seed always yields the same
// profile.
func New(seed int64) *Profile {
	r := rand.New(rand.NewSource(seed))
	vp := viewports[r.Intn(len(viewports))]
	return &Profile{
		Seed:                seed,
		UserAgent:           userAgents[r.Intn(len(userAgents))],
		ViewportWidth:       vp[0],
		ViewportHeight:      vp[1],
		Timezone:            timezones[r.Intn(len(timezones))],
		Languages:           languageSets[r.Intn(len(languageSets))],
		HardwareConcurrency: concurrencies[r.Intn(len(concurrencies))],
		NoiseSeed:           r.Int63(),
	}
}

// Script renders the patch that is injected before any page script runs.
// The window guard makes a second injection a no-op, so applying the same
// profile twice cannot break the page.
func (p *Profile) Script() string {
	langs := "["
	for i, l := range p.Languages {
		if i > 0 {
			langs += ","
		}
		langs += fmt.Sprintf("%q", l)
	}
	langs += "]"

	return fmt.Sprintf(`(() => {
  if (window.__fw_masked) { return; }
  Object.defineProperty(window, '__fw_masked', { value: true, configurable: false });

  Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
  Object.defineProperty(navigator, 'languages', { get: () => %s });
  Object.defineProperty(navigator, 'language', { get: () => %q });
  Object.defineProperty(navigator, 'hardwareConcurrency', { get: () => %d });
  Object.defineProperty(navigator, 'plugins', {
    get: () => { const p = [1, 2, 3, 4, 5]; p.item = i => p[i]; p.namedItem = () => null; return p; }
  });
  window.chrome = window.chrome || { runtime: {} };

  const noiseSeed = %d;
  let noiseState = noiseSeed;
  const nextNoise = () => {
    noiseState = (noiseState * 1103515245 + 12345) %% 2147483648;
    return (noiseState %% 3) - 1;
  };

  const origGetImageData = CanvasRenderingContext2D.prototype.getImageData;
  CanvasRenderingContext2D.prototype.getImageData = function (...args) {
    const data = origGetImageData.apply(this, args);
    for (let i = 0; i < data.data.length; i += 401) {
      data.data[i] = Math.min(255, Math.max(0, data.data[i] + nextNoise()));
    }
    return data;
  };
  const origToDataURL = HTMLCanvasElement.prototype.toDataURL;
  HTMLCanvasElement.prototype.toDataURL = function (...args) {
    const ctx = this.getContext('2d');
    if (ctx && this.width > 0 && this.height > 0) {
      const px = origGetImageData.call(ctx, 0, 0, 1, 1);
      px.data[0] = Math.min(255, Math.max(0, px.data[0] + nextNoise()));
      ctx.putImageData(px, 0, 0);
    }
    return origToDataURL.apply(this, args);
  };

  const origGetParameter = WebGLRenderingContext.prototype.getParameter;
  WebGLRenderingContext.prototype.getParameter = function (param) {
    if (param === 37445) { return 'Intel Inc.'; }
    if (param === 37446) { return 'Intel Iris OpenGL Engine'; }
    return origGetParameter.apply(this, [param]);
  };
})();`, langs, p.Languages[0], p.HardwareConcurrency, p.NoiseSeed)
}

// Apply installs the profile on a browser context: the masking script runs
// on every new document, and user agent, viewport and timezone are
// overridden to match the profile.
func (p *Profile) Apply(ctx context.Context) error {
	return chromedp.Run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(p.Script()).Do(ctx)
			return err
		}),
		emulation.SetUserAgentOverride(p.UserAgent),
		emulation.SetTimezoneOverride(p.Timezone),
		chromedp.EmulateViewport(p.ViewportWidth, p.ViewportHeight),
	)
}
