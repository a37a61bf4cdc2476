package accel

import (
	"fmt"
	"strings"
)

// Predicate reports whether a device is acceptable.
type Predicate func(DeviceInfo) bool

// Any accepts every device.
func Any(DeviceInfo) bool { return true }

// VendorContains matches devices whose platform vendor or device vendor
// contains s, ignoring case. An empty s matches nothing.
func VendorContains(s string) Predicate {
	needle := strings.ToLower(strings.TrimSpace(s))
	return func(d DeviceInfo) bool {
		if needle == "" {
			return false
		}
		return strings.Contains(strings.ToLower(d.Vendor), needle) ||
			strings.Contains(strings.ToLower(d.Platform), needle)
	}
}

// OfType matches devices of type t. The empty type matches every device.
func OfType(t DeviceType) Predicate {
	return func(d DeviceInfo) bool {
		return t == "" || d.Type == t
	}
}

// And matches devices accepted by every predicate.
func And(preds ...Predicate) Predicate {
	return func(d DeviceInfo) bool {
		for _, p := range preds {
			if !p(d) {
				return false
			}
		}
		return true
	}
}

// Select picks a device: among the devices accepted by filter it returns
// the first one accepted by prefer, or the first accepted device when none
// is preferred.
func Select(devices []DeviceInfo, prefer, filter Predicate) (DeviceInfo, error) {
	if filter == nil {
		filter = Any
	}
	var (
		first DeviceInfo
		found bool
	)
	for _, d := range devices {
		if !filter(d) {
			continue
		}
		if prefer != nil && prefer(d) {
			return d, nil
		}
		if !found {
			first = d
			found = true
		}
	}
	if !found {
		return DeviceInfo{}, fmt.Errorf("%w among %d devices", ErrNoDevice, len(devices))
	}
	return first, nil
}
