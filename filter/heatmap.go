package filter

import (
	"fmt"
	"strings"
	"sync"
	"time"

	colorful "github.com/lucasb-eyer/go-colorful"
	"pkt.systems/vtgrid/core"
	"pkt.systems/vtgrid/schema"
)

const (
	defaultRingSize = 8
	defaultWindow   = 10 * time.Second
	legendSwatches  = 16
)

// HeatmapConfig adjusts the update-frequency tracker.
type HeatmapConfig struct {
	// Ring caps how many recent update stamps each cell keeps.
	Ring int
	// Window is the sliding interval rates are computed over.
	Window time.Duration
	// Palette selects the render gradient.
	Palette schema.PaletteName
}

// Heatmap is a workload filter that tracks how often each cell changes.
// It shadows the session on its own grid and stamps changed cells once
// per completed frame, so rates measure visible updates rather than
// byte traffic. Each cell keeps a fixed-size ring of stamps; history
// beyond the ring is deliberately forgotten.
type Heatmap struct {
	cfg HeatmapConfig

	mu     sync.Mutex
	shadow *core.Grid
	last   [][]uint64
	rings  [][]stampRing
	latest time.Duration
}

type stampRing struct {
	at   []time.Duration
	next int
	n    int
}

func (r *stampRing) push(size int, d time.Duration) {
	if r.at == nil {
		r.at = make([]time.Duration, size)
	}
	r.at[r.next] = d
	r.next = (r.next + 1) % len(r.at)
	if r.n < len(r.at) {
		r.n++
	}
}

func (r *stampRing) countSince(cutoff time.Duration) int {
	c := 0
	for i := 0; i < r.n; i++ {
		if r.at[i] >= cutoff {
			c++
		}
	}
	return c
}

// NewHeatmap builds the filter. Zero config fields take defaults.
func NewHeatmap(cfg HeatmapConfig) *Heatmap {
	if cfg.Ring <= 0 {
		cfg.Ring = defaultRingSize
	}
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if cfg.Palette == "" {
		cfg.Palette = schema.DefaultPalette
	}
	return &Heatmap{cfg: cfg}
}

// Name identifies the filter in diagnostics.
func (h *Heatmap) Name() schema.FilterName { return "heatmap" }

func (h *Heatmap) OnSessionStart(cols, rows int, startedAt time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shadow = core.NewGrid(cols, rows)
	h.last = makeSeqs(cols, rows)
	h.rings = makeRings(cols, rows)
	h.latest = 0
	return nil
}

func (h *Heatmap) OnOutput(tokens []core.Token, elapsed time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.shadow == nil {
		return nil
	}
	for i := range tokens {
		h.shadow.Apply(tokens[i])
	}
	return nil
}

// OnFrameComplete diffs the shadow grid against the previous frame and
// stamps every cell whose version moved.
func (h *Heatmap) OnFrameComplete(elapsed time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.shadow == nil {
		return nil
	}
	h.latest = elapsed
	snap := h.shadow.Snapshot()
	for y := range snap.Cells {
		if y >= len(h.last) {
			break
		}
		for x := range snap.Cells[y] {
			if x >= len(h.last[y]) {
				break
			}
			seq := snap.Cells[y][x].Seq
			if seq == h.last[y][x] {
				continue
			}
			h.last[y][x] = seq
			h.rings[y][x].push(h.cfg.Ring, elapsed)
		}
	}
	return nil
}

func (h *Heatmap) OnResize(cols, rows int, elapsed time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.shadow == nil {
		return nil
	}
	if err := h.shadow.Resize(cols, rows); err != nil {
		return err
	}
	last := makeSeqs(cols, rows)
	rings := makeRings(cols, rows)
	for y := 0; y < rows && y < len(h.last); y++ {
		for x := 0; x < cols && x < len(h.last[y]); x++ {
			last[y][x] = h.last[y][x]
			rings[y][x] = h.rings[y][x]
		}
	}
	h.last = last
	h.rings = rings
	return nil
}

func (h *Heatmap) OnSessionEnd(elapsed time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if elapsed > h.latest {
		h.latest = elapsed
	}
	return nil
}

// Rate returns the cell's updates per second over the sliding window,
// measured against the most recent stamp time.
func (h *Heatmap) Rate(x, y int) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rateLocked(x, y)
}

func (h *Heatmap) rateLocked(x, y int) float64 {
	if y < 0 || y >= len(h.rings) || x < 0 || x >= len(h.rings[y]) {
		return 0
	}
	cutoff := h.latest - h.cfg.Window
	if cutoff < 0 {
		cutoff = 0
	}
	span := h.cfg.Window
	if h.latest < span {
		span = h.latest
	}
	if span <= 0 {
		span = time.Second
	}
	count := h.rings[y][x].countSince(cutoff)
	return float64(count) / span.Seconds()
}

// Render draws the heatmap as ANSI art, one background-colored pair of
// columns per cell, with a gradient legend underneath.
func (h *Heatmap) Render() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.rings) == 0 {
		return ""
	}
	rows := len(h.rings)
	cols := len(h.rings[0])
	rates := make([][]float64, rows)
	peak := 0.0
	for y := 0; y < rows; y++ {
		rates[y] = make([]float64, cols)
		for x := 0; x < cols; x++ {
			r := h.rateLocked(x, y)
			rates[y][x] = r
			if r > peak {
				peak = r
			}
		}
	}
	grad := paletteGradient(h.cfg.Palette)
	var b strings.Builder
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			t := 0.0
			if peak > 0 {
				t = rates[y][x] / peak
			}
			cr, cg, cb := grad.at(t).RGB255()
			fmt.Fprintf(&b, "\x1b[48;2;%d;%d;%dm ", cr, cg, cb)
		}
		b.WriteString("\x1b[0m\n")
	}
	b.WriteString("0 ")
	for i := 0; i < legendSwatches; i++ {
		t := float64(i) / float64(legendSwatches-1)
		cr, cg, cb := grad.at(t).RGB255()
		fmt.Fprintf(&b, "\x1b[48;2;%d;%d;%dm ", cr, cg, cb)
	}
	fmt.Fprintf(&b, "\x1b[0m %.1f/s (window %s, palette %s)\n",
		peak, h.cfg.Window, h.cfg.Palette)
	return b.String()
}

func makeSeqs(cols, rows int) [][]uint64 {
	out := make([][]uint64, rows)
	for y := range out {
		out[y] = make([]uint64, cols)
	}
	return out
}

func makeRings(cols, rows int) [][]stampRing {
	out := make([][]stampRing, rows)
	for y := range out {
		out[y] = make([]stampRing, cols)
	}
	return out
}

type gradientPoint struct {
	pos float64
	col colorful.Color
}

type gradient []gradientPoint

func (g gradient) at(t float64) colorful.Color {
	if t <= g[0].pos {
		return g[0].col
	}
	if t >= g[len(g)-1].pos {
		return g[len(g)-1].col
	}
	for i := 0; i < len(g)-1; i++ {
		a, b := g[i], g[i+1]
		if t >= a.pos && t <= b.pos {
			f := (t - a.pos) / (b.pos - a.pos)
			return a.col.BlendHcl(b.col, f).Clamped()
		}
	}
	return g[len(g)-1].col
}

func paletteGradient(name schema.PaletteName) gradient {
	switch name {
	case "viridis":
		return gradient{
			{0.0, mustHex("#440154")},
			{0.25, mustHex("#3b528b")},
			{0.5, mustHex("#21918c")},
			{0.75, mustHex("#5ec962")},
			{1.0, mustHex("#fde725")},
		}
	case "ice":
		return gradient{
			{0.0, mustHex("#0a1a40")},
			{0.4, mustHex("#1e66d0")},
			{0.7, mustHex("#53c8f0")},
			{1.0, mustHex("#eaffff")},
		}
	default:
		return gradient{
			{0.0, mustHex("#101010")},
			{0.35, mustHex("#8a1010")},
			{0.6, mustHex("#e05010")},
			{0.8, mustHex("#f0c010")},
			{1.0, mustHex("#fffce0")},
		}
	}
}

func mustHex(s string) colorful.Color {
	c, err := colorful.Hex(s)
	if err != nil {
		panic(err)
	}
	return c
}
