package ontology

import "sort"

// UnitType is the registry type name of a unit (e.g. "COLORABLE_LIGHT").
type UnitType string

// Unit types known to the class map.
const (
	UnitTypeColorableLight    UnitType = "COLORABLE_LIGHT"
	UnitTypeDimmableLight     UnitType = "DIMMABLE_LIGHT"
	UnitTypeLight             UnitType = "LIGHT"
	UnitTypePowerSwitch       UnitType = "POWER_SWITCH"
	UnitTypeMotionDetector    UnitType = "MOTION_DETECTOR"
	UnitTypeTemperatureSensor UnitType = "TEMPERATURE_SENSOR"
	UnitTypePowerConsumption  UnitType = "POWER_CONSUMPTION_SENSOR"
	UnitTypeScene             UnitType = "SCENE"
	UnitTypeLocation          UnitType = "LOCATION"
	UnitTypeConnection        UnitType = "CONNECTION"
)

// ClassMap maps unit types to the ontology classes asserted for them.
var ClassMap = map[UnitType][]string{
	UnitTypeColorableLight:    {"ColorableLight"},
	UnitTypeDimmableLight:     {"DimmableLight"},
	UnitTypeLight:             {"Light"},
	UnitTypePowerSwitch:       {"PowerSwitch"},
	UnitTypeMotionDetector:    {"MotionDetector"},
	UnitTypeTemperatureSensor: {"TemperatureSensor"},
	UnitTypePowerConsumption:  {"PowerConsumptionSensor"},
	UnitTypeScene:             {"Scene"},
	UnitTypeLocation:          {ClassLocation},
	UnitTypeConnection:        {ClassConnection},
}

// ClassesForUnit returns the classes asserted for a unit of the given type.
// Unmapped types fall back to ClassUnit.
func ClassesForUnit(t UnitType) []string {
	if classes, ok := ClassMap[t]; ok {
		return append([]string(nil), classes...)
	}
	return []string{ClassUnit}
}

// ServiceKind distinguishes services with enumerated values from services
// with numeric values.
type ServiceKind int

const (
	// Discrete services reference a shared value resource.
	Discrete ServiceKind = iota
	// Continuous services carry typed numeric literals.
	Continuous
)

// String returns the kind name.
func (k ServiceKind) String() string {
	switch k {
	case Discrete:
		return "discrete"
	case Continuous:
		return "continuous"
	default:
		return "unknown"
	}
}

// Dimension describes one numeric component of a continuous service value.
type Dimension struct {
	Name      string
	Predicate string
	Datatype  string
}

// ServiceMapping describes how a service state is expressed as triples.
type ServiceMapping struct {
	Service string
	Kind    ServiceKind

	// Predicate links the unit (or observation) to a discrete value resource.
	Predicate   string
	// ValuePrefix names the value resources: ValuePrefix + "_" + value.
	ValuePrefix string
	// Values lists the accepted discrete values.
	Values      []string

	// Dimensions lists continuous components in emission order.
	Dimensions []Dimension
}

// Predicates returns every predicate the mapping may emit for a unit.
func (m ServiceMapping) Predicates() []string {
	if m.Kind == Discrete {
		return []string{m.Predicate}
	}
	preds := make([]string, 0, len(m.Dimensions))
	for _, d := range m.Dimensions {
		preds = append(preds, d.Predicate)
	}
	return preds
}

// AcceptsValue reports whether v is one of the discrete values.
func (m ServiceMapping) AcceptsValue(v string) bool {
	for _, known := range m.Values {
		if known == v {
			return true
		}
	}
	return false
}

// ValueResource returns the local name of the shared resource for v.
func (m ServiceMapping) ValueResource(v string) string {
	return m.ValuePrefix + "_" + v
}

var serviceMappings = map[string]ServiceMapping{
	"ENABLING_STATE_SERVICE": {
		Service:     "ENABLING_STATE_SERVICE",
		Kind:        Discrete,
		Predicate:   "hasEnablingState",
		ValuePrefix: "EnablingState",
		Values:      []string{"ENABLED", "DISABLED"},
	},
	"POWER_STATE_SERVICE": {
		Service:     "POWER_STATE_SERVICE",
		Kind:        Discrete,
		Predicate:   "hasPowerState",
		ValuePrefix: "PowerState",
		Values:      []string{"ON", "OFF", "UNKNOWN"},
	},
	"ACTIVATION_STATE_SERVICE": {
		Service:     "ACTIVATION_STATE_SERVICE",
		Kind:        Discrete,
		Predicate:   "hasActivationState",
		ValuePrefix: "ActivationState",
		Values:      []string{"ACTIVE", "INACTIVE", "UNKNOWN"},
	},
	"MOTION_STATE_SERVICE": {
		Service:     "MOTION_STATE_SERVICE",
		Kind:        Discrete,
		Predicate:   "hasMotionState",
		ValuePrefix: "MotionState",
		Values:      []string{"MOTION", "NO_MOTION", "UNKNOWN"},
	},
	"PRESENCE_STATE_SERVICE": {
		Service:     "PRESENCE_STATE_SERVICE",
		Kind:        Discrete,
		Predicate:   "hasPresenceState",
		ValuePrefix: "PresenceState",
		Values:      []string{"PRESENT", "ABSENT", "UNKNOWN"},
	},
	"COLOR_STATE_SERVICE": {
		Service: "COLOR_STATE_SERVICE",
		Kind:    Continuous,
		Dimensions: []Dimension{
			{Name: "hue", Predicate: "hasHue", Datatype: XSDDouble},
			{Name: "saturation", Predicate: "hasSaturation", Datatype: XSDDouble},
			{Name: "brightness", Predicate: "hasBrightness", Datatype: XSDDouble},
		},
	},
	"BRIGHTNESS_STATE_SERVICE": {
		Service: "BRIGHTNESS_STATE_SERVICE",
		Kind:    Continuous,
		Dimensions: []Dimension{
			{Name: "brightness", Predicate: "hasBrightness", Datatype: XSDDouble},
		},
	},
	"TEMPERATURE_STATE_SERVICE": {
		Service: "TEMPERATURE_STATE_SERVICE",
		Kind:    Continuous,
		Dimensions: []Dimension{
			{Name: "temperature", Predicate: "hasTemperature", Datatype: XSDDouble},
		},
	},
	"POWER_CONSUMPTION_STATE_SERVICE": {
		Service: "POWER_CONSUMPTION_STATE_SERVICE",
		Kind:    Continuous,
		Dimensions: []Dimension{
			{Name: "consumption", Predicate: "hasPowerConsumption", Datatype: XSDDouble},
			{Name: "voltage", Predicate: "hasVoltage", Datatype: XSDDouble},
			{Name: "current", Predicate: "hasCurrent", Datatype: XSDDouble},
		},
	},
}

// LookupService returns the mapping for a service type.
func LookupService(service string) (ServiceMapping, bool) {
	m, ok := serviceMappings[service]
	return m, ok
}

// Services returns the names of all mapped service types, sorted.
func Services() []string {
	names := make([]string, 0, len(serviceMappings))
	for name := range serviceMappings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
