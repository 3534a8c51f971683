// Package behavior simulates human input patterns: Bezier-curve mouse
// paths, variable typing cadence with occasional corrected typos, eased
// scrolling, and reading pauses. Detection systems profile behavior
// beyond fingerprints; linear mouse paths and metronome typing are
// strong automation markers.
package behavior

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/allaspectsdev/browserd/internal/browser"
)

// point is a 2D coordinate on the page.
type point struct {
	x, y float64
}

// ---------------------------------------------------------------------------
// Bezier mouse paths
// ---------------------------------------------------------------------------

// bezierPoints generates a cubic Bezier curve between start and end with
// randomized perpendicular control-point offsets.
func bezierPoints(start, end point, steps int, curvature float64) []point {
	curvature = curvature * (0.8 + rand.Float64()*0.4)

	dx := end.x - start.x
	dy := end.y - start.y
	distance := math.Sqrt(dx*dx + dy*dy)

	offset := distance * curvature
	if rand.Float64() <= 0.5 {
		offset = -offset
	}

	var perpX, perpY float64
	if distance > 0 {
		perpX = -dy / distance
		perpY = dx / distance
	} else {
		perpX, perpY = 0, 1
	}

	cp1 := point{
		x: start.x + dx*0.33 + perpX*offset*uniform(0.5, 1.5),
		y: start.y + dy*0.33 + perpY*offset*uniform(0.5, 1.5),
	}
	cp2 := point{
		x: start.x + dx*0.67 + perpX*offset*uniform(-0.5, 0.5),
		y: start.y + dy*0.67 + perpY*offset*uniform(-0.5, 0.5),
	}

	points := make([]point, 0, steps+1)
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		mt := 1 - t
		x := mt*mt*mt*start.x + 3*mt*mt*t*cp1.x + 3*mt*t*t*cp2.x + t*t*t*end.x
		y := mt*mt*mt*start.y + 3*mt*mt*t*cp1.y + 3*mt*t*t*cp2.y + t*t*t*end.y
		points = append(points, point{x: math.Round(x), y: math.Round(y)})
	}
	return points
}

// movementDelays returns per-step delays in milliseconds with ease-in-out
// shaping: humans slow down at the start and end of a movement.
func movementDelays(steps int, baseDelayMS, variance float64) []float64 {
	delays := make([]float64, 0, steps)
	for i := 0; i < steps; i++ {
		t := 0.0
		if steps > 0 {
			t = float64(i) / float64(steps)
		}
		ease := t * t * (3 - 2*t)
		speedFactor := 0.5 + math.Abs(0.5-ease)
		delay := baseDelayMS * speedFactor * (1 + (rand.Float64()-0.5)*variance)
		if delay < 1 {
			delay = 1
		}
		delays = append(delays, delay)
	}
	return delays
}

// ---------------------------------------------------------------------------
// Typing cadence
// ---------------------------------------------------------------------------

const typingBaseDelayMS = 80.0

// typoProbability is the per-character chance of a corrected typo.
const typoProbability = 0.03

// fastDigraphs are common letter pairs typed faster than average.
var fastDigraphs = map[string]bool{
	"th": true, "he": true, "in": true, "er": true, "an": true, "re": true,
	"on": true, "at": true, "en": true, "nd": true, "ti": true, "es": true,
	"or": true, "te": true, "of": true, "ed": true, "is": true, "it": true,
	"al": true, "ar": true, "st": true, "to": true, "nt": true, "ng": true,
	"se": true, "ha": true, "as": true, "ou": true, "io": true, "le": true,
	"ve": true, "co": true, "me": true, "de": true, "hi": true, "ri": true,
	"ro": true, "ic": true, "ne": true, "ea": true,
}

// adjacentKeys maps each letter to its QWERTY neighbors for typo
// simulation.
var adjacentKeys = map[rune]string{
	'a': "sqwz", 'b': "vghn", 'c': "xdfv", 'd': "sfec", 'e': "wrd",
	'f': "dgrc", 'g': "fhtv", 'h': "gjyn", 'i': "uok", 'j': "hkun",
	'k': "jlim", 'l': "kop", 'm': "njk", 'n': "bhmj", 'o': "iplk",
	'p': "ol", 'q': "wa", 'r': "eft", 's': "adwz", 't': "rgy",
	'u': "yij", 'v': "cfgb", 'w': "qase", 'x': "zsdc", 'y': "thu",
	'z': "xas",
}

// interKeyDelay computes the pause before typing char, in milliseconds.
func interKeyDelay(char, prevChar rune, intensity float64) float64 {
	delay := typingBaseDelayMS

	switch {
	case char == ' ':
		delay *= 1.2
	case char >= 'A' && char <= 'Z':
		delay *= 1.3
	case char == '.' || char == ',' || char == '!' || char == '?' || char == ';' || char == ':':
		delay *= 1.5
	case char >= '0' && char <= '9':
		delay *= 1.1
	}

	digraph := string([]rune{lower(prevChar), lower(char)})
	if fastDigraphs[digraph] {
		delay *= 0.7
	}

	variance := delay * 0.3
	delay += rand.NormFloat64() * variance
	if delay < 20 {
		delay = 20
	}

	// Rare thinking pause.
	if rand.Float64() < 0.01 {
		delay += uniform(200, 500)
	}

	return delay * intensity
}

func lower(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}

// ---------------------------------------------------------------------------
// Reading pace
// ---------------------------------------------------------------------------

const (
	readingWPM          = 250.0
	readingCharsPerWord = 5.0
)

// scrollPause computes the pause after scrolling distance pixels.
func scrollPause(distance int, intensity float64) time.Duration {
	base := float64(distance) / 500.0 * 0.5
	pause := base + uniform(-0.2, 0.3)
	if pause < 0.2 {
		pause = 0.2
	}
	return secs(pause * intensity)
}

// ---------------------------------------------------------------------------
// Orchestrator
// ---------------------------------------------------------------------------

// Humanizer drives human-like input at a given intensity. Intensity is
// clamped to [0.5, 2.0]: 0.5 hurried, 1.0 typical, 2.0 deliberate.
type Humanizer struct {
	intensity float64
}

// New creates a Humanizer with the clamped intensity.
func New(intensity float64) *Humanizer {
	if intensity < 0.5 {
		intensity = 0.5
	}
	if intensity > 2.0 {
		intensity = 2.0
	}
	return &Humanizer{intensity: intensity}
}

// mouseTrackerJS records the last mouse position so consecutive moves
// start where the previous one ended.
const mouseTrackerJS = `(() => {
    if (!window.__bd_mouse) {
        window.__bd_mouse = {x: 0, y: 0};
        document.addEventListener('mousemove', e => {
            window.__bd_mouse.x = e.clientX;
            window.__bd_mouse.y = e.clientY;
        }, {passive: true});
    }
})()`

const mousePosJS = `(() => {
    const t = window.__bd_mouse;
    return t ? {x: t.x, y: t.y} : null;
})()`

// MoveToElement moves the mouse along a Bezier curve to the element's
// box (with small random offset) and optionally clicks. Falls back to a
// plain click when the element has no box.
func (h *Humanizer) MoveToElement(ctx context.Context, page browser.Page, locator browser.Locator, click bool) error {
	start := h.currentMousePos(ctx, page)

	box, err := locator.BoundingBox()
	if err != nil || box == nil {
		if click {
			return locator.Click(ctx, 10*time.Second)
		}
		return nil
	}

	end := point{
		x: box.X + box.Width/2 + uniform(-5, 5),
		y: box.Y + box.Height/2 + uniform(-5, 5),
	}

	dist := math.Hypot(end.x-start.x, end.y-start.y)
	steps := int(dist / 10)
	if steps < 20 {
		steps = 20
	}
	points := bezierPoints(start, end, steps, 0.3)
	delays := movementDelays(steps, 5*h.intensity, 0.5)

	mouse := page.Mouse()
	for i, p := range points {
		if err := mouse.Move(p.x, p.y, 0); err != nil {
			return err
		}
		if i < len(delays) {
			sleep(ctx, millis(delays[i]))
		}
	}

	if click {
		sleep(ctx, secs(uniform(0.05, 0.15)*h.intensity))
		return mouse.Click(end.x, end.y)
	}
	return nil
}

// currentMousePos reads the tracked mouse position, injecting the
// tracker and defaulting to the viewport center on first use.
func (h *Humanizer) currentMousePos(ctx context.Context, page browser.Page) point {
	if raw, err := page.Evaluate(ctx, mousePosJS); err == nil {
		if m, ok := raw.(map[string]any); ok {
			if x, ok := toFloat(m["x"]); ok {
				if y, ok := toFloat(m["y"]); ok {
					return point{x: x, y: y}
				}
			}
		}
	}
	_, _ = page.Evaluate(ctx, mouseTrackerJS)
	vp := page.ViewportSize()
	if vp.Width == 0 {
		return point{x: 500, y: 300}
	}
	return point{x: float64(vp.Width) / 2, y: float64(vp.Height) / 2}
}

// Type moves to the element, clicks it, and types text with human
// cadence. At intensity >= 0.8 occasional adjacent-key typos are typed
// and corrected with backspace.
func (h *Humanizer) Type(ctx context.Context, page browser.Page, locator browser.Locator, text string) error {
	if err := h.MoveToElement(ctx, page, locator, true); err != nil {
		return err
	}
	sleep(ctx, secs(uniform(0.1, 0.3)*h.intensity))

	kb := page.Keyboard()
	var prev rune
	for _, char := range text {
		sleep(ctx, millis(interKeyDelay(char, prev, h.intensity)))

		low := lower(char)
		if h.intensity >= 0.8 && adjacentKeys[low] != "" && rand.Float64() < typoProbability {
			neighbors := adjacentKeys[low]
			wrong := rune(neighbors[rand.Intn(len(neighbors))])
			if char >= 'A' && char <= 'Z' {
				wrong = wrong - ('a' - 'A')
			}
			if err := kb.Type(string(wrong)); err != nil {
				return err
			}
			sleep(ctx, secs(uniform(0.15, 0.4)*h.intensity))
			if err := kb.Press("Backspace"); err != nil {
				return err
			}
			sleep(ctx, secs(uniform(0.05, 0.15)*h.intensity))
		}

		if err := kb.Type(string(char)); err != nil {
			return err
		}
		prev = char
	}
	return nil
}

// Scroll scrolls with eased acceleration in small increments, then
// pauses as if reading.
func (h *Humanizer) Scroll(ctx context.Context, page browser.Page, direction string, amount int) error {
	sign := 1.0
	if direction == "up" {
		sign = -1.0
	}
	increments := amount / 60
	if increments < 5 {
		increments = 5
	}
	perStep := float64(amount) / float64(increments)

	mouse := page.Mouse()
	for i := 0; i < increments; i++ {
		t := float64(i) / float64(increments)
		ease := t * t * (3 - 2*t)
		speed := 0.3 + ease*0.7
		delta := perStep * speed * sign

		if err := mouse.Wheel(0, math.Round(delta)); err != nil {
			return err
		}
		sleep(ctx, secs(uniform(0.01, 0.04)*h.intensity))
	}

	sleep(ctx, scrollPause(amount, h.intensity))
	return nil
}

// MoveAndClickAt moves toward viewport coordinates in a few steps and
// clicks, for coordinate-addressed clicks.
func (h *Humanizer) MoveAndClickAt(ctx context.Context, page browser.Page, x, y float64) error {
	mouse := page.Mouse()
	if err := mouse.Move(x, y, 5+rand.Intn(8)); err != nil {
		return err
	}
	sleep(ctx, secs(uniform(0.05, 0.15)))
	return mouse.Click(x, y)
}

// SettleDelay is the post-click settle pause: uniform 0.2-0.5s.
func (h *Humanizer) SettleDelay() time.Duration {
	return secs(uniform(0.2, 0.5))
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func uniform(lo, hi float64) float64 {
	return lo + rand.Float64()*(hi-lo)
}

func millis(msF float64) time.Duration {
	return time.Duration(msF * float64(time.Millisecond))
}

func secs(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}
