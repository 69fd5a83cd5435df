package scene

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/goccy/go-yaml"
	"github.com/hashicorp/go-multierror"
)

var (
	ErrInvalidDocument = errors.New("invalid scene document")
	ErrDropped         = errors.New("scene element dropped")
)

const (
	DefaultMaxObjects = 512
	DefaultMaxDepth   = 8
)

// Loader turns scene documents into validated graphs.
type Loader struct {
	parsers    []GeometryParser
	maxObjects int
	maxDepth   int
}

// NewLoader creates a loader with the built-in geometry kinds.
func NewLoader() *Loader {
	return NewLoaderWithParsers(defaultGeometryParsers())
}

// NewLoaderWithParsers allows geometry extension without loader changes.
func NewLoaderWithParsers(parsers []GeometryParser) *Loader {
	if len(parsers) == 0 {
		parsers = defaultGeometryParsers()
	}
	return &Loader{parsers: parsers, maxObjects: DefaultMaxObjects, maxDepth: DefaultMaxDepth}
}

// Parse decodes a YAML or JSON document. Unknown fields are rejected.
func Parse(data []byte) (Document, error) {
	var doc Document
	if len(strings.TrimSpace(string(data))) == 0 {
		return doc, fmt.Errorf("%w: empty document", ErrInvalidDocument)
	}
	if err := yaml.UnmarshalWithOptions(data, &doc, yaml.DisallowUnknownField()); err != nil {
		return doc, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return doc, nil
}

// Load parses and builds a graph. When only individual elements are invalid the
// surviving graph is returned together with an aggregated error wrapping ErrDropped.
func (l *Loader) Load(ctx context.Context, data []byte) (*Graph, error) {
	doc, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return l.Build(ctx, doc)
}

// Build validates doc and builds its graph.
func (l *Loader) Build(ctx context.Context, doc Document) (*Graph, error) {
	b := &builder{loader: l, graph: newGraph(doc.Name)}

	if doc.Background != "" {
		if c, err := ParseColor(doc.Background); err != nil {
			b.drop("background", err)
		} else {
			b.graph.Background = c
		}
	}
	if doc.Camera != nil {
		b.camera(*doc.Camera)
	}
	for i, light := range doc.Lights {
		b.light(i, light)
	}
	for _, obj := range doc.Objects {
		if node := b.object(obj, nil, 1); node != nil {
			b.graph.Roots = append(b.graph.Roots, node)
		}
	}
	for i, track := range doc.Animations {
		b.track(i, track)
	}

	if b.issues != nil {
		logger.Warnf(ctx, "scene %q loaded with %d dropped elements: %v", doc.Name, len(b.issues.Errors), b.issues)
		return b.graph, b.issues.ErrorOrNil()
	}
	logger.Debugf(ctx, "scene %q loaded: %d objects, %d tracks", doc.Name, b.graph.Len(), len(b.graph.tracks))
	return b.graph, nil
}

type builder struct {
	loader *Loader
	graph  *Graph
	count  int
	issues *multierror.Error
}

func (b *builder) drop(what string, err error) {
	b.issues = multierror.Append(b.issues, fmt.Errorf("%w: %s: %v", ErrDropped, what, err))
}

func (b *builder) camera(doc CameraDoc) {
	fov := doc.FOV
	if fov == 0 {
		fov = 75
	}
	if !(fov > 0 && fov < 180) {
		b.drop("camera", fmt.Errorf("fov must be in (0, 180), got %g", fov))
		return
	}
	if err := checkVec("position", &doc.Position); err != nil {
		b.drop("camera", err)
		return
	}
	if err := checkVec("lookAt", doc.LookAt); err != nil {
		b.drop("camera", err)
		return
	}
	cam := Camera{FOV: fov, Position: doc.Position}
	if doc.LookAt != nil {
		cam.LookAt = *doc.LookAt
	}
	b.graph.Camera = cam
}

func (b *builder) light(index int, doc LightDoc) {
	what := fmt.Sprintf("light[%d]", index)
	kind := strings.ToLower(strings.TrimSpace(doc.Kind))
	switch kind {
	case "ambient", "directional", "point":
	default:
		b.drop(what, fmt.Errorf("unsupported light kind %q", doc.Kind))
		return
	}

	light := Light{Kind: kind, Color: color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}, Intensity: 1}
	if doc.Color != "" {
		c, err := ParseColor(doc.Color)
		if err != nil {
			b.drop(what, err)
			return
		}
		light.Color = c
	}
	if doc.Intensity != nil {
		if !(*doc.Intensity >= 0) || math.IsInf(*doc.Intensity, 1) {
			b.drop(what, fmt.Errorf("intensity must be finite and not negative, got %g", *doc.Intensity))
			return
		}
		light.Intensity = *doc.Intensity
	}
	if err := checkVec("position", doc.Position); err != nil {
		b.drop(what, err)
		return
	}
	if doc.Position != nil {
		light.Position = *doc.Position
	}
	b.graph.Lights = append(b.graph.Lights, light)
}

// object validates doc and its subtree. An invalid object drops its whole subtree.
func (b *builder) object(doc ObjectDoc, parent *Node, depth int) *Node {
	id := strings.TrimSpace(doc.ID)
	what := fmt.Sprintf("object %q", id)
	switch {
	case id == "":
		b.drop("object", errors.New("missing id"))
		return nil
	case b.graph.nodes[id] != nil:
		b.drop(what, errors.New("duplicate id"))
		return nil
	case depth > b.loader.maxDepth:
		b.drop(what, fmt.Errorf("nesting deeper than %d", b.loader.maxDepth))
		return nil
	case b.count >= b.loader.maxObjects:
		b.drop(what, fmt.Errorf("more than %d objects", b.loader.maxObjects))
		return nil
	}

	shape, err := b.shape(doc.Geometry)
	if err != nil {
		b.drop(what, err)
		return nil
	}
	material, err := buildMaterial(doc.Material)
	if err != nil {
		b.drop(what, err)
		return nil
	}
	for _, v := range []struct {
		name string
		vec  *Vec3
	}{{"position", doc.Position}, {"rotation", doc.Rotation}, {"scale", doc.Scale}} {
		if err := checkVec(v.name, v.vec); err != nil {
			b.drop(what, err)
			return nil
		}
	}

	node := &Node{ID: id, Shape: shape, Material: material, Parent: parent, Base: identityTransform()}
	if doc.Position != nil {
		node.Base.Position = *doc.Position
	}
	if doc.Rotation != nil {
		node.Base.Rotation = *doc.Rotation
	}
	if doc.Scale != nil {
		node.Base.Scale = *doc.Scale
	}

	b.count++
	b.graph.nodes[id] = node
	for _, child := range doc.Children {
		if c := b.object(child, node, depth+1); c != nil {
			node.Children = append(node.Children, c)
		}
	}
	return node
}

func (b *builder) shape(doc GeometryDoc) (Shape, error) {
	for _, parser := range b.loader.parsers {
		if parser.CanParse(doc.Kind) {
			return parser.Parse(doc.Params)
		}
	}
	return nil, fmt.Errorf("unsupported geometry kind %q", doc.Kind)
}

func buildMaterial(doc MaterialDoc) (Material, error) {
	m := Material{Kind: "standard", Color: color.RGBA{R: 0xcc, G: 0xcc, B: 0xcc, A: 0xff}, Opacity: 1, Wireframe: doc.Wireframe}
	switch kind := strings.ToLower(strings.TrimSpace(doc.Kind)); kind {
	case "":
	case "basic", "standard", "phong", "lambert":
		m.Kind = kind
	default:
		return Material{}, fmt.Errorf("unsupported material kind %q", doc.Kind)
	}
	if doc.Color != "" {
		c, err := ParseColor(doc.Color)
		if err != nil {
			return Material{}, err
		}
		m.Color = c
	}
	if doc.Opacity != nil {
		if !(*doc.Opacity >= 0 && *doc.Opacity <= 1) {
			return Material{}, fmt.Errorf("opacity must be within [0, 1], got %g", *doc.Opacity)
		}
		m.Opacity = *doc.Opacity
	}
	return m, nil
}

func (b *builder) track(index int, doc TrackDoc) {
	what := fmt.Sprintf("animation[%d]", index)
	node := b.graph.nodes[strings.TrimSpace(doc.Target)]
	if node == nil {
		b.drop(what, fmt.Errorf("unknown target %q", doc.Target))
		return
	}
	property := Property(strings.ToLower(strings.TrimSpace(doc.Property)))
	switch property {
	case PropertyPosition, PropertyRotation, PropertyScale:
	default:
		b.drop(what, fmt.Errorf("unsupported property %q", doc.Property))
		return
	}
	if len(doc.Keyframes) == 0 {
		b.drop(what, errors.New("no keyframes"))
		return
	}

	for i, k := range doc.Keyframes {
		if !(k.Time >= 0) || math.IsInf(k.Time, 1) {
			b.drop(what, fmt.Errorf("keyframe time must be finite and not negative, got %g", k.Time))
			return
		}
		if err := checkVec(fmt.Sprintf("keyframe[%d] value", i), &k.Value); err != nil {
			b.drop(what, err)
			return
		}
	}

	keys := make([]KeyframeDoc, len(doc.Keyframes))
	copy(keys, doc.Keyframes)
	sort.SliceStable(keys, func(i, j int) bool { return keys[i].Time < keys[j].Time })

	track := Track{Target: node.ID, Property: property, Loop: doc.Loop}
	for _, k := range keys {
		track.Keyframes = append(track.Keyframes, Keyframe{Time: k.Time, Value: k.Value})
	}
	b.graph.tracks = append(b.graph.tracks, track)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// checkVec accepts a nil vector.
func checkVec(name string, v *Vec3) error {
	if v == nil {
		return nil
	}
	for _, c := range v {
		if !finite(c) {
			return fmt.Errorf("%s must be finite, got %v", name, *v)
		}
	}
	return nil
}

var namedColors = map[string]color.RGBA{
	"black": {A: 0xff},
	"white": {R: 0xff, G: 0xff, B: 0xff, A: 0xff},
	"red":   {R: 0xff, A: 0xff},
	"green": {G: 0x80, A: 0xff},
	"blue":  {B: 0xff, A: 0xff},
	"gray":  {R: 0x80, G: 0x80, B: 0x80, A: 0xff},
	"grey":  {R: 0x80, G: 0x80, B: 0x80, A: 0xff},
}

// ParseColor accepts "#rgb", "#rrggbb", "0xrrggbb" and a few color names.
func ParseColor(s string) (color.RGBA, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if c, ok := namedColors[s]; ok {
		return c, nil
	}

	hex := strings.TrimPrefix(strings.TrimPrefix(s, "#"), "0x")
	if hex == s {
		return color.RGBA{}, fmt.Errorf("invalid color %q", s)
	}
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q", s)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}
