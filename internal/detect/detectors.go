package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wpeva/new-undetect-browser-sub005/internal/browser"
)

// Detector estimates how identifiable a protected session is to one external
// detection service. Implementations must respect the probe context deadline.
type Detector interface {
	Name() string
	Weight() int
	Probe(ctx context.Context, session browser.Session, handle string, cfg ProtectionConfig) (DetectionScore, error)
}

// DefaultDetectors returns the fixed detector panel. Names and weights are
// immutable for the lifetime of the process; weights range 1-10 and reflect
// how thorough each service is.
func DefaultDetectors() []Detector {
	return []Detector{
		pixelscanDetector(),
		creepjsDetector(),
		browserleaksDetector(),
		incolumitasDetector(),
		sannysoftDetector(),
	}
}

// check is one observable extracted by a detector's probe script. A failed
// required check subtracts its penalty from the score; a warn-level check
// subtracts half and lands in Warnings instead of Failed.
type check struct {
	name    string
	key     string
	penalty int
	warn    bool
	expect  func(v any) bool
}

// siteDetector navigates an isolated context to a detection service and
// evaluates a probe script that returns one flat object of observables.
type siteDetector struct {
	name    string
	weight  int
	pageURL string
	script  string
	checks  []check
}

func (d siteDetector) Name() string { return d.name }

func (d siteDetector) Weight() int { return d.weight }

func (d siteDetector) Probe(ctx context.Context, session browser.Session, handle string, cfg ProtectionConfig) (DetectionScore, error) {
	score := DetectionScore{
		Detector:  d.name,
		Score:     100,
		Passed:    []string{},
		Failed:    []string{},
		Warnings:  []string{},
		Timestamp: time.Now().UTC(),
		Metadata:  map[string]any{"url": d.pageURL},
	}

	if err := session.Navigate(ctx, handle, d.pageURL, 0); err != nil {
		return score, fmt.Errorf("%s: %w", d.name, err)
	}
	value, err := session.Evaluate(ctx, handle, d.script)
	if err != nil {
		return score, fmt.Errorf("%s: %w", d.name, err)
	}
	observed, ok := value.(map[string]any)
	if !ok {
		return score, fmt.Errorf("%s: probe returned %T, expected object", d.name, value)
	}
	for key, v := range observed {
		score.Metadata[key] = v
	}

	total := 100
	for _, c := range d.checks {
		v, present := observed[c.key]
		if present && c.expect(v) {
			score.Passed = append(score.Passed, c.name)
			continue
		}
		detail := c.name
		if present {
			detail = fmt.Sprintf("%s (%v)", c.name, v)
		}
		if c.warn {
			score.Warnings = append(score.Warnings, detail)
			total -= c.penalty / 2
		} else {
			score.Failed = append(score.Failed, detail)
			total -= c.penalty
		}
	}
	if total < 0 {
		total = 0
	}
	score.Score = total
	return score, nil
}

// configureScript hands the dial values to the injection layer already loaded
// in the context. The spoofing overrides themselves live in the browser
// service, not here.
func configureScript(cfg ProtectionConfig) string {
	payload, _ := json.Marshal(cfg)
	return fmt.Sprintf("window.__undetectProtection = %s; true", payload)
}

func isTrue(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

func isFalse(v any) bool {
	b, ok := v.(bool)
	return ok && !b
}

func numAbove(threshold float64) func(any) bool {
	return func(v any) bool {
		f, ok := asFloat(v)
		return ok && f > threshold
	}
}

func pixelscanDetector() Detector {
	return siteDetector{
		name:    "pixelscan",
		weight:  9,
		pageURL: "https://pixelscan.net",
		script: `(() => {
			const c1 = document.createElement('canvas'); const c2 = document.createElement('canvas');
			const draw = c => { const x = c.getContext('2d'); x.textBaseline = 'top'; x.font = '14px Arial'; x.fillText('pxscan-7f', 2, 2); return c.toDataURL(); };
			let vendor = '';
			try {
				const gl = document.createElement('canvas').getContext('webgl');
				const info = gl.getExtension('WEBGL_debug_renderer_info');
				vendor = gl.getParameter(info.UNMASKED_VENDOR_WEBGL);
			} catch (e) {}
			return {
				webdriver_absent: navigator.webdriver !== true,
				headless_ua: /HeadlessChrome|PhantomJS/i.test(navigator.userAgent),
				canvas_randomized: draw(c1) !== draw(c2),
				webgl_vendor_masked: vendor !== '' && !/SwiftShader|llvmpipe/i.test(vendor),
				plugin_count: navigator.plugins.length,
				language_count: navigator.languages.length
			};
		})()`,
		checks: []check{
			{name: "navigator.webdriver hidden", key: "webdriver_absent", penalty: 40, expect: isTrue},
			{name: "headless user-agent", key: "headless_ua", penalty: 25, expect: isFalse},
			{name: "canvas fingerprint randomized", key: "canvas_randomized", penalty: 20, expect: isTrue},
			{name: "webgl vendor masked", key: "webgl_vendor_masked", penalty: 15, expect: isTrue},
			{name: "plugin list populated", key: "plugin_count", penalty: 10, warn: true, expect: numAbove(0)},
			{name: "language list populated", key: "language_count", penalty: 10, warn: true, expect: numAbove(0)},
		},
	}
}

func creepjsDetector() Detector {
	return siteDetector{
		name:    "creepjs",
		weight:  10,
		pageURL: "https://abrahamjuliot.github.io/creepjs/",
		script: `(() => {
			const ua = navigator.userAgent;
			const platformConsistent = !(/Windows/i.test(ua) && navigator.platform.startsWith('Linux')) && !(/Linux/.test(navigator.platform) && /Mac OS X/i.test(ua));
			const tz = Intl.DateTimeFormat().resolvedOptions().timeZone || '';
			const offsetConsistent = Math.abs(new Date().getTimezoneOffset()) < 14 * 60;
			return {
				webdriver_absent: navigator.webdriver !== true,
				platform_consistent: platformConsistent,
				timezone_present: tz.length > 0,
				timezone_offset_sane: offsetConsistent,
				hardware_concurrency: navigator.hardwareConcurrency || 0,
				device_memory: navigator.deviceMemory || 0,
				chrome_object: typeof window.chrome === 'object'
			};
		})()`,
		checks: []check{
			{name: "navigator.webdriver hidden", key: "webdriver_absent", penalty: 30, expect: isTrue},
			{name: "platform/user-agent consistent", key: "platform_consistent", penalty: 25, expect: isTrue},
			{name: "timezone reported", key: "timezone_present", penalty: 15, expect: isTrue},
			{name: "timezone offset plausible", key: "timezone_offset_sane", penalty: 10, warn: true, expect: isTrue},
			{name: "hardware concurrency reported", key: "hardware_concurrency", penalty: 10, expect: numAbove(0)},
			{name: "device memory reported", key: "device_memory", penalty: 10, warn: true, expect: numAbove(0)},
			{name: "chrome runtime object present", key: "chrome_object", penalty: 10, warn: true, expect: isTrue},
		},
	}
}

func browserleaksDetector() Detector {
	return siteDetector{
		name:    "browserleaks",
		weight:  8,
		pageURL: "https://browserleaks.com/canvas",
		script: `(() => {
			const render = () => {
				const c = document.createElement('canvas'); c.width = 220; c.height = 30;
				const x = c.getContext('2d');
				x.fillStyle = '#f60'; x.fillRect(0, 0, 62, 20);
				x.fillStyle = '#069'; x.font = '11pt no-real-font-77'; x.fillText('BrowserLeaks,com <canvas> 1.0', 2, 15);
				return c.toDataURL();
			};
			let audioAccessible = false;
			try { audioAccessible = typeof (window.AudioContext || window.webkitAudioContext) === 'function'; } catch (e) {}
			return {
				canvas_randomized: render() !== render(),
				canvas_blocked: render().length < 32,
				font_fallback_masked: document.fonts ? document.fonts.status === 'loaded' : true,
				audio_api_present: audioAccessible
			};
		})()`,
		checks: []check{
			{name: "canvas fingerprint randomized", key: "canvas_randomized", penalty: 45, expect: isTrue},
			{name: "canvas readback blocked outright", key: "canvas_blocked", penalty: 25, expect: isFalse},
			{name: "font enumeration masked", key: "font_fallback_masked", penalty: 15, warn: true, expect: isTrue},
			{name: "audio api present", key: "audio_api_present", penalty: 15, warn: true, expect: isTrue},
		},
	}
}

func incolumitasDetector() Detector {
	return siteDetector{
		name:    "incolumitas",
		weight:  7,
		pageURL: "https://bot.incolumitas.com",
		script: `(() => {
			const cdc = Object.keys(window).filter(k => /^cdc_|^\$cdc_/.test(k)).length;
			return {
				webdriver_absent: navigator.webdriver !== true,
				cdc_vars: cdc,
				permissions_api: typeof navigator.permissions === 'object',
				outer_dims_sane: window.outerWidth > 0 && window.outerHeight > 0,
				connection_rtt: (navigator.connection && navigator.connection.rtt) || -1,
				touch_points: navigator.maxTouchPoints
			};
		})()`,
		checks: []check{
			{name: "navigator.webdriver hidden", key: "webdriver_absent", penalty: 35, expect: isTrue},
			{name: "chromedriver globals absent", key: "cdc_vars", penalty: 30, expect: func(v any) bool { f, ok := asFloat(v); return ok && f == 0 }},
			{name: "permissions api present", key: "permissions_api", penalty: 15, expect: isTrue},
			{name: "outer window dimensions sane", key: "outer_dims_sane", penalty: 15, expect: isTrue},
			{name: "network rtt reported", key: "connection_rtt", penalty: 10, warn: true, expect: func(v any) bool { f, ok := asFloat(v); return ok && f >= 0 }},
		},
	}
}

func sannysoftDetector() Detector {
	return siteDetector{
		name:    "sannysoft",
		weight:  5,
		pageURL: "https://bot.sannysoft.com",
		script: `(() => ({
			webdriver_absent: navigator.webdriver !== true,
			headless_ua: /HeadlessChrome/i.test(navigator.userAgent),
			plugin_count: navigator.plugins.length,
			language_count: navigator.languages.length,
			webgl_present: (() => { try { return !!document.createElement('canvas').getContext('webgl'); } catch (e) { return false; } })()
		}))()`,
		checks: []check{
			{name: "navigator.webdriver hidden", key: "webdriver_absent", penalty: 40, expect: isTrue},
			{name: "headless user-agent", key: "headless_ua", penalty: 30, expect: isFalse},
			{name: "plugin list populated", key: "plugin_count", penalty: 15, expect: numAbove(0)},
			{name: "language list populated", key: "language_count", penalty: 10, warn: true, expect: numAbove(0)},
			{name: "webgl context available", key: "webgl_present", penalty: 15, warn: true, expect: isTrue},
		},
	}
}
