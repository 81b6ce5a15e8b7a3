package model

// Defaults applied to per-node parameters missing from a scenario.
const (
	DefaultArea             = 3.0
	DefaultImperviousFactor = 0.5
	DefaultPipeLoss         = 1.0
	DefaultKSensor          = 0.8
	DefaultAlpha            = 1.2

	// DefaultMeanFlow is the dry-weather flow assumed for a node with no
	// hourly-mean entry at all.
	DefaultMeanFlow = 50.0
)

// NodeParams holds the static hydrology parameters of one sub-catchment.
type NodeParams struct {
	// KSensor is the rain-response gain.
	KSensor float64
	// Alpha is the rainfall nonlinearity exponent.
	Alpha float64
	// ImperviousFactor is the non-absorptive fraction of the area (0..1).
	ImperviousFactor float64
	// Area of the sub-catchment in km².
	Area float64
	// PipeLoss is the fraction of flow retained when leaving the node.
	PipeLoss float64
}

// DefaultNodeParams returns the documented parameter defaults.
func DefaultNodeParams() NodeParams {
	return NodeParams{
		KSensor:          DefaultKSensor,
		Alpha:            DefaultAlpha,
		ImperviousFactor: DefaultImperviousFactor,
		Area:             DefaultArea,
		PipeLoss:         DefaultPipeLoss,
	}
}

// PartialNodeParams is a sparse parameter set; nil fields fall back to the
// defaults when resolved.
type PartialNodeParams struct {
	KSensor          *float64 `yaml:"k_sensor" mapstructure:"k_sensor"`
	Alpha            *float64 `yaml:"alpha" mapstructure:"alpha"`
	ImperviousFactor *float64 `yaml:"impervious_factor" mapstructure:"impervious_factor"`
	Area             *float64 `yaml:"area" mapstructure:"area"`
	PipeLoss         *float64 `yaml:"pipe_loss" mapstructure:"pipe_loss"`
}

// Resolve fills every missing field from DefaultNodeParams.
func (p PartialNodeParams) Resolve() NodeParams {
	out := DefaultNodeParams()
	if p.KSensor != nil {
		out.KSensor = *p.KSensor
	}
	if p.Alpha != nil {
		out.Alpha = *p.Alpha
	}
	if p.ImperviousFactor != nil {
		out.ImperviousFactor = *p.ImperviousFactor
	}
	if p.Area != nil {
		out.Area = *p.Area
	}
	if p.PipeLoss != nil {
		out.PipeLoss = *p.PipeLoss
	}
	return out
}
