// Package viewfinder manages the user-resizable framing rectangle and maps it
// from display pixels into preview pixels.
package viewfinder

import (
	"image"
	"sync"

	"github.com/GriffinCanCode/reverser/internal/overlay"
)

// Framing rectangle limits, display pixels
const (
	MinFrameWidth  = 50
	MinFrameHeight = 20
	MaxFrameWidth  = 800
	MaxFrameHeight = 600

	// Touch slop around edges, and the larger slop around corners, which
	// are tested first because the zones overlap.
	EdgeBuffer   = 50
	CornerBuffer = 60
)

// Manager owns the framing rectangle. Safe for concurrent use.
type Manager struct {
	mu       sync.RWMutex
	viewport image.Point
	preview  image.Point
	frame    image.Rectangle
	onResize func(image.Rectangle)
}

// New centres an initial frame of 3/5 the viewport width and 1/5 its height.
func New(viewport, preview image.Point) *Manager {
	w := clamp(viewport.X*3/5, MinFrameWidth, MaxFrameWidth)
	h := clamp(viewport.Y/5, MinFrameHeight, MaxFrameHeight)
	return &Manager{
		viewport: viewport,
		preview:  preview,
		frame:    centred(viewport, w, h),
	}
}

// OnResize registers fn to run after every applied resize. The displayed
// result is stale once the frame moves, so hosts clear it here.
func (m *Manager) OnResize(fn func(image.Rectangle)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onResize = fn
}

// Frame returns the framing rectangle in display pixels.
func (m *Manager) Frame() image.Rectangle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.frame
}

// Viewport returns the display bounds.
func (m *Manager) Viewport() image.Rectangle {
	return image.Rectangle{Max: m.viewport}
}

// Adjust grows the frame by dw x dh, keeping it centred. The change is
// ignored unless the new size stays within the minimums and the viewport.
func (m *Manager) Adjust(dw, dh int) bool {
	m.mu.Lock()
	w, h := m.frame.Dx()+dw, m.frame.Dy()+dh
	if w <= MinFrameWidth || w >= m.viewport.X || h <= MinFrameHeight || h >= m.viewport.Y {
		m.mu.Unlock()
		return false
	}
	m.frame = centred(m.viewport, w, h)
	frame, hook := m.frame, m.onResize
	m.mu.Unlock()

	if hook != nil {
		hook(frame)
	}
	return true
}

// Drag applies one pointer move from last to cur. A move near a corner
// resizes both axes, near an edge one axis; the delta is doubled because the
// frame stays centred. Reports whether the frame changed.
func (m *Manager) Drag(last, cur image.Point) bool {
	f := m.Frame()
	dx, dy := cur.X-last.X, cur.Y-last.Y

	near := func(a, b, edge, buf int) bool {
		return (a >= edge-buf && a <= edge+buf) || (b >= edge-buf && b <= edge+buf)
	}
	within := func(a, b, lo, hi int) bool {
		return (a >= lo && a <= hi) || (b >= lo && b <= hi)
	}
	nearX := func(edge, buf int) bool { return near(cur.X, last.X, edge, buf) }
	nearY := func(edge, buf int) bool { return near(cur.Y, last.Y, edge, buf) }

	switch {
	case nearX(f.Min.X, CornerBuffer) && nearY(f.Min.Y, CornerBuffer):
		return m.Adjust(-2*dx, -2*dy)
	case nearX(f.Max.X, CornerBuffer) && nearY(f.Min.Y, CornerBuffer):
		return m.Adjust(2*dx, -2*dy)
	case nearX(f.Min.X, CornerBuffer) && nearY(f.Max.Y, CornerBuffer):
		return m.Adjust(-2*dx, 2*dy)
	case nearX(f.Max.X, CornerBuffer) && nearY(f.Max.Y, CornerBuffer):
		return m.Adjust(2*dx, 2*dy)
	case nearX(f.Min.X, EdgeBuffer) && within(cur.Y, last.Y, f.Min.Y, f.Max.Y):
		return m.Adjust(-2*dx, 0)
	case nearX(f.Max.X, EdgeBuffer) && within(cur.Y, last.Y, f.Min.Y, f.Max.Y):
		return m.Adjust(2*dx, 0)
	case nearY(f.Min.Y, EdgeBuffer) && within(cur.X, last.X, f.Min.X, f.Max.X):
		return m.Adjust(0, -2*dy)
	case nearY(f.Max.Y, EdgeBuffer) && within(cur.X, last.X, f.Min.X, f.Max.X):
		return m.Adjust(0, 2*dy)
	}
	return false
}

// CaptureFrame maps the frame into preview pixels.
func (m *Manager) CaptureFrame() image.Rectangle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.captureLocked()
}

func (m *Manager) captureLocked() image.Rectangle {
	sx := func(x int) int { return x * m.preview.X / m.viewport.X }
	sy := func(y int) int { return y * m.preview.Y / m.viewport.Y }
	return image.Rect(sx(m.frame.Min.X), sy(m.frame.Min.Y), sx(m.frame.Max.X), sy(m.frame.Max.Y))
}

// Geometry returns a consistent snapshot for one overlay draw.
func (m *Manager) Geometry() overlay.Geometry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return overlay.Geometry{
		Viewport:     image.Rectangle{Max: m.viewport},
		Frame:        m.frame,
		CaptureFrame: m.captureLocked(),
	}
}

func centred(viewport image.Point, w, h int) image.Rectangle {
	left := (viewport.X - w) / 2
	top := (viewport.Y - h) / 2
	return image.Rect(left, top, left+w, top+h)
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
