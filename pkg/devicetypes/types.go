// pkg/devicetypes/types.go
package devicetypes

import "labdevice-service/pkg/driver"

// Capability names an operation a device kind supports over the API
type Capability string

const (
	CapabilityMoveBy      Capability = "MOVE_BY"
	CapabilityMoveTo      Capability = "MOVE_TO"
	CapabilityEnable      Capability = "ENABLE"
	CapabilityPosition    Capability = "POSITION"
	CapabilityLimits      Capability = "LIMITS"
	CapabilitySetPosition Capability = "SET_POSITION"
	CapabilityDescribe    Capability = "DESCRIBE"
)

// DeviceCapabilities defines standard capabilities per device kind
var DeviceCapabilities = map[driver.DeviceKind][]Capability{
	driver.DeviceKindStage: {
		CapabilityMoveBy, CapabilityMoveTo, CapabilityEnable, CapabilityPosition, CapabilityLimits,
	},
	driver.DeviceKindFilterWheel: {
		CapabilityPosition, CapabilitySetPosition,
	},
	driver.DeviceKindController: {
		CapabilityDescribe,
	},
}

// CapabilitiesOf returns a copy of the capabilities of kind, empty for
// unknown kinds
func CapabilitiesOf(kind driver.DeviceKind) []Capability {
	return append([]Capability{}, DeviceCapabilities[kind]...)
}

// Supports reports whether kind has capability c
func Supports(kind driver.DeviceKind, c Capability) bool {
	for _, have := range DeviceCapabilities[kind] {
		if have == c {
			return true
		}
	}
	return false
}
