package behavior

import (
	"testing"
)

// ---------------------------------------------------------------------------
// Bezier paths
// ---------------------------------------------------------------------------

func TestBezierPoints_EndpointsAndCount(t *testing.T) {
	start := point{x: 0, y: 0}
	end := point{x: 300, y: 200}
	pts := bezierPoints(start, end, 40, 0.3)

	if len(pts) != 41 {
		t.Fatalf("points = %d, want steps+1", len(pts))
	}
	if pts[0] != start {
		t.Errorf("first point = %+v, want start", pts[0])
	}
	if pts[len(pts)-1].x != end.x || pts[len(pts)-1].y != end.y {
		t.Errorf("last point = %+v, want end", pts[len(pts)-1])
	}
}

func TestBezierPoints_NotAllCollinear(t *testing.T) {
	// A straight path is the bot giveaway the curve exists to avoid.
	pts := bezierPoints(point{x: 0, y: 0}, point{x: 400, y: 0}, 50, 0.3)
	offAxis := 0
	for _, p := range pts {
		if p.y != 0 {
			offAxis++
		}
	}
	if offAxis == 0 {
		t.Error("curve should deviate from the straight line")
	}
}

func TestMovementDelays_PositiveAndEased(t *testing.T) {
	delays := movementDelays(30, 5, 0.5)
	if len(delays) != 30 {
		t.Fatalf("delays = %d", len(delays))
	}
	for i, d := range delays {
		if d < 1 {
			t.Errorf("delay[%d] = %v, want >= 1ms", i, d)
		}
	}
	// Ease-in-out: the first step is slower than the mid-path step.
	if delays[0] <= delays[15] {
		t.Errorf("delay[0] = %v, delay[15] = %v, want the start slower than the middle", delays[0], delays[15])
	}
}

// ---------------------------------------------------------------------------
// Typing cadence
// ---------------------------------------------------------------------------

func TestInterKeyDelay_Bounds(t *testing.T) {
	for i := 0; i < 200; i++ {
		d := interKeyDelay('a', 'x', 1.0)
		if d < 20 {
			t.Fatalf("delay = %v, floor is 20ms", d)
		}
	}
}

func TestInterKeyDelay_IntensityScales(t *testing.T) {
	var slow, fast float64
	for i := 0; i < 200; i++ {
		fast += interKeyDelay('a', 'x', 0.5)
		slow += interKeyDelay('a', 'x', 2.0)
	}
	if slow <= fast {
		t.Errorf("higher intensity should be slower on average: %.0f vs %.0f", slow, fast)
	}
}

func TestAdjacentKeys_CoverAlphabet(t *testing.T) {
	for r := 'a'; r <= 'z'; r++ {
		if adjacentKeys[r] == "" {
			t.Errorf("no adjacent keys for %q", r)
		}
	}
}

// ---------------------------------------------------------------------------
// Intensity clamping
// ---------------------------------------------------------------------------

func TestNew_ClampsIntensity(t *testing.T) {
	if h := New(0.1); h.intensity != 0.5 {
		t.Errorf("intensity = %v, want clamp to 0.5", h.intensity)
	}
	if h := New(9); h.intensity != 2.0 {
		t.Errorf("intensity = %v, want clamp to 2.0", h.intensity)
	}
	if h := New(1.3); h.intensity != 1.3 {
		t.Errorf("intensity = %v, want passthrough", h.intensity)
	}
}

func TestSettleDelay_InRange(t *testing.T) {
	h := New(1.0)
	for i := 0; i < 100; i++ {
		d := h.SettleDelay()
		if d.Seconds() < 0.2 || d.Seconds() > 0.5 {
			t.Fatalf("settle delay = %v, want [0.2s, 0.5s]", d)
		}
	}
}

func TestScrollPause_Positive(t *testing.T) {
	for _, dist := range []int{50, 300, 2000} {
		if p := scrollPause(dist, 1.0); p.Seconds() < 0.2 {
			t.Errorf("pause for %dpx = %v, want >= 0.2s", dist, p)
		}
	}
}
