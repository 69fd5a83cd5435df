package scene

import (
	"image/color"
	"math"
)

type Property string

const (
	PropertyPosition Property = "position"
	PropertyRotation Property = "rotation"
	PropertyScale    Property = "scale"
)

type Transform struct {
	Position Vec3
	Rotation Vec3
	Scale    Vec3
}

func identityTransform() Transform {
	return Transform{Scale: Vec3{1, 1, 1}}
}

type Material struct {
	Kind      string
	Color     color.RGBA
	Opacity   float64
	Wireframe bool
}

type Camera struct {
	FOV      float64
	Position Vec3
	LookAt   Vec3
}

type Light struct {
	Kind      string
	Color     color.RGBA
	Intensity float64
	Position  Vec3
}

// Node is one object of the graph. Base is the transform before animation.
type Node struct {
	ID       string
	Shape    Shape
	Material Material
	Base     Transform
	Parent   *Node
	Children []*Node
}

type Keyframe struct {
	Time  float64
	Value Vec3
}

// Track animates one property of one node. Keyframes are sorted by time.
type Track struct {
	Target    string
	Property  Property
	Loop      bool
	Keyframes []Keyframe
}

// Duration is the time of the last keyframe.
func (t Track) Duration() float64 {
	if len(t.Keyframes) == 0 {
		return 0
	}
	return t.Keyframes[len(t.Keyframes)-1].Time
}

// At interpolates linearly between keyframes. Outside the keyframe range the
// nearest keyframe holds, unless the track loops.
func (t Track) At(seconds float64) Vec3 {
	keys := t.Keyframes
	if len(keys) == 0 {
		return Vec3{}
	}
	if t.Loop {
		if d := t.Duration(); d > 0 && seconds > d {
			seconds = math.Mod(seconds, d)
		}
	}
	if seconds <= keys[0].Time {
		return keys[0].Value
	}
	for i := 1; i < len(keys); i++ {
		next := keys[i]
		if seconds > next.Time {
			continue
		}
		prev := keys[i-1]
		span := next.Time - prev.Time
		if span <= 0 {
			return next.Value
		}
		f := (seconds - prev.Time) / span
		return lerp(prev.Value, next.Value, f)
	}
	return keys[len(keys)-1].Value
}

func lerp(a, b Vec3, f float64) Vec3 {
	return Vec3{a[0] + (b[0]-a[0])*f, a[1] + (b[1]-a[1])*f, a[2] + (b[2]-a[2])*f}
}

// Graph is a validated scene ready for sampling.
type Graph struct {
	Name       string
	Background color.RGBA
	Camera     Camera
	Lights     []Light
	Roots      []*Node

	nodes  map[string]*Node
	tracks []Track
}

func newGraph(name string) *Graph {
	return &Graph{
		Name:       name,
		Background: color.RGBA{A: 0xff},
		Camera:     Camera{FOV: 75, Position: Vec3{0, 0, 5}},
		nodes:      map[string]*Node{},
	}
}

// Len is the number of nodes in the graph.
func (g *Graph) Len() int {
	return len(g.nodes)
}

func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

func (g *Graph) Tracks() []Track {
	out := make([]Track, len(g.tracks))
	copy(out, g.tracks)
	return out
}

// Duration is the length of the longest track.
func (g *Graph) Duration() float64 {
	var d float64
	for _, t := range g.tracks {
		d = math.Max(d, t.Duration())
	}
	return d
}

// Sample returns the local transform of every node at time seconds.
func (g *Graph) Sample(seconds float64) map[string]Transform {
	out := make(map[string]Transform, len(g.nodes))
	for id, n := range g.nodes {
		out[id] = n.Base
	}
	for _, t := range g.tracks {
		tr := out[t.Target]
		v := t.At(seconds)
		switch t.Property {
		case PropertyPosition:
			tr.Position = v
		case PropertyRotation:
			tr.Rotation = v
		case PropertyScale:
			tr.Scale = v
		}
		out[t.Target] = tr
	}
	return out
}

// Walk visits nodes depth first in document order.
func (g *Graph) Walk(fn func(n *Node, depth int)) {
	var visit func(n *Node, depth int)
	visit = func(n *Node, depth int) {
		fn(n, depth)
		for _, c := range n.Children {
			visit(c, depth+1)
		}
	}
	for _, r := range g.Roots {
		visit(r, 1)
	}
}
