package scene

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Shape is a validated geometry.
type Shape interface {
	Kind() string
}

type Box struct{ Width, Height, Depth float64 }
type Sphere struct {
	Radius                        float64
	WidthSegments, HeightSegments int
}
type Cylinder struct{ RadiusTop, RadiusBottom, Height float64 }
type Cone struct{ Radius, Height float64 }
type Plane struct{ Width, Height float64 }
type Torus struct{ Radius, Tube float64 }

func (Box) Kind() string      { return "box" }
func (Sphere) Kind() string   { return "sphere" }
func (Cylinder) Kind() string { return "cylinder" }
func (Cone) Kind() string     { return "cone" }
func (Plane) Kind() string    { return "plane" }
func (Torus) Kind() string    { return "torus" }

// GeometryParser validates the params of one geometry kind.
type GeometryParser interface {
	CanParse(kind string) bool
	Parse(values map[string]float64) (Shape, error)
}

func defaultGeometryParsers() []GeometryParser {
	return []GeometryParser{
		kindParser{kind: "box", allowed: []string{"width", "height", "depth"}, build: func(p *params) Shape {
			return Box{Width: p.positive("width", 1), Height: p.positive("height", 1), Depth: p.positive("depth", 1)}
		}},
		kindParser{kind: "sphere", allowed: []string{"radius", "widthSegments", "heightSegments"}, build: func(p *params) Shape {
			return Sphere{
				Radius:         p.positive("radius", 1),
				WidthSegments:  p.segments("widthSegments", 32, 3),
				HeightSegments: p.segments("heightSegments", 16, 2),
			}
		}},
		kindParser{kind: "cylinder", allowed: []string{"radiusTop", "radiusBottom", "height"}, build: func(p *params) Shape {
			return Cylinder{RadiusTop: p.nonNegative("radiusTop", 1), RadiusBottom: p.nonNegative("radiusBottom", 1), Height: p.positive("height", 1)}
		}},
		kindParser{kind: "cone", allowed: []string{"radius", "height"}, build: func(p *params) Shape {
			return Cone{Radius: p.positive("radius", 1), Height: p.positive("height", 1)}
		}},
		kindParser{kind: "plane", allowed: []string{"width", "height"}, build: func(p *params) Shape {
			return Plane{Width: p.positive("width", 1), Height: p.positive("height", 1)}
		}},
		kindParser{kind: "torus", allowed: []string{"radius", "tube"}, build: func(p *params) Shape {
			return Torus{Radius: p.positive("radius", 1), Tube: p.positive("tube", 0.4)}
		}},
	}
}

type kindParser struct {
	kind    string
	allowed []string
	build   func(p *params) Shape
}

func (k kindParser) CanParse(kind string) bool {
	return strings.EqualFold(strings.TrimSpace(kind), k.kind)
}

func (k kindParser) Parse(raw map[string]float64) (Shape, error) {
	var unknown []string
	for name := range raw {
		if !contains(k.allowed, name) {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%s: unknown params %s", k.kind, strings.Join(unknown, ", "))
	}

	p := params{values: raw}
	shape := k.build(&p)
	if p.err != nil {
		return nil, fmt.Errorf("%s: %w", k.kind, p.err)
	}
	return shape, nil
}

// params reads geometry parameters and keeps the first validation error.
type params struct {
	values map[string]float64
	err    error
}

func (p *params) positive(name string, fallback float64) float64 {
	v, ok := p.values[name]
	if !ok {
		return fallback
	}
	if !(v > 0 && finite(v)) && p.err == nil {
		p.err = fmt.Errorf("%s must be positive and finite, got %g", name, v)
	}
	return v
}

func (p *params) nonNegative(name string, fallback float64) float64 {
	v, ok := p.values[name]
	if !ok {
		return fallback
	}
	if !(v >= 0 && finite(v)) && p.err == nil {
		p.err = fmt.Errorf("%s must be finite and not negative, got %g", name, v)
	}
	return v
}

func (p *params) segments(name string, fallback int, min int) int {
	v, ok := p.values[name]
	if !ok {
		return fallback
	}
	if !finite(v) || v != math.Trunc(v) || v < float64(min) || v > 1<<16 {
		if p.err == nil {
			p.err = fmt.Errorf("%s must be an integer in [%d, 65536], got %g", name, min, v)
		}
		return fallback
	}
	return int(v)
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
