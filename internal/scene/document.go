package scene

// Vec3 is an x/y/z triple.
type Vec3 [3]float64

// Document is the declarative scene description as produced by the analysis backend.
type Document struct {
	Name       string      `yaml:"name" json:"name"`
	Background string      `yaml:"background,omitempty" json:"background,omitempty"`
	Camera     *CameraDoc  `yaml:"camera,omitempty" json:"camera,omitempty"`
	Lights     []LightDoc  `yaml:"lights,omitempty" json:"lights,omitempty"`
	Objects    []ObjectDoc `yaml:"objects" json:"objects"`
	Animations []TrackDoc  `yaml:"animations,omitempty" json:"animations,omitempty"`
}

type CameraDoc struct {
	FOV      float64 `yaml:"fov" json:"fov"`
	Position Vec3    `yaml:"position" json:"position"`
	LookAt   *Vec3   `yaml:"lookAt,omitempty" json:"lookAt,omitempty"`
}

type LightDoc struct {
	Kind      string   `yaml:"kind" json:"kind"`
	Color     string   `yaml:"color,omitempty" json:"color,omitempty"`
	Intensity *float64 `yaml:"intensity,omitempty" json:"intensity,omitempty"`
	Position  *Vec3    `yaml:"position,omitempty" json:"position,omitempty"`
}

type ObjectDoc struct {
	ID       string      `yaml:"id" json:"id"`
	Geometry GeometryDoc `yaml:"geometry" json:"geometry"`
	Material MaterialDoc `yaml:"material,omitempty" json:"material,omitempty"`
	Position *Vec3       `yaml:"position,omitempty" json:"position,omitempty"`
	Rotation *Vec3       `yaml:"rotation,omitempty" json:"rotation,omitempty"`
	Scale    *Vec3       `yaml:"scale,omitempty" json:"scale,omitempty"`
	Children []ObjectDoc `yaml:"children,omitempty" json:"children,omitempty"`
}

type GeometryDoc struct {
	Kind   string             `yaml:"kind" json:"kind"`
	Params map[string]float64 `yaml:"params,omitempty" json:"params,omitempty"`
}

type MaterialDoc struct {
	Kind      string   `yaml:"kind,omitempty" json:"kind,omitempty"`
	Color     string   `yaml:"color,omitempty" json:"color,omitempty"`
	Opacity   *float64 `yaml:"opacity,omitempty" json:"opacity,omitempty"`
	Wireframe bool     `yaml:"wireframe,omitempty" json:"wireframe,omitempty"`
}

type TrackDoc struct {
	Target    string        `yaml:"target" json:"target"`
	Property  string        `yaml:"property" json:"property"`
	Loop      bool          `yaml:"loop,omitempty" json:"loop,omitempty"`
	Keyframes []KeyframeDoc `yaml:"keyframes" json:"keyframes"`
}

type KeyframeDoc struct {
	Time  float64 `yaml:"time" json:"time"`
	Value Vec3    `yaml:"value" json:"value"`
}
