package serial

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"go.bug.st/serial/enumerator"

	"github.com/kabili207/ocbridge/core"
)

// Teensy USB identifiers, the default controller hardware.
const (
	TeensyVID uint16 = 0x16C0
)

// TeensyPIDs are the product ids of Teensy serial configurations.
var TeensyPIDs = []uint16{0x0483, 0x0486, 0x0487, 0x0489}

// DeviceMatch selects the controller among the system's serial ports.
// USB ports match on VID and PID; other ports match when their name
// contains NameHint.
type DeviceMatch struct {
	VID      uint16
	PIDs     []uint16
	NameHint string
}

// DefaultDeviceMatch matches any Teensy serial device.
func DefaultDeviceMatch() DeviceMatch {
	return DeviceMatch{VID: TeensyVID, PIDs: slices.Clone(TeensyPIDs)}
}

// Matches reports whether p is the device described by m.
func (m DeviceMatch) Matches(p *enumerator.PortDetails) bool {
	if p.IsUSB {
		vid, err := parseHexID(p.VID)
		if err != nil || vid != m.VID {
			return false
		}
		pid, err := parseHexID(p.PID)
		return err == nil && slices.Contains(m.PIDs, pid)
	}
	return m.NameHint != "" && strings.Contains(p.Name, m.NameHint)
}

func parseHexID(s string) (uint16, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 16)
	return uint16(v), err
}

// MultipleDevicesError reports an ambiguous detection.
type MultipleDevicesError struct {
	Ports []string
}

func (e *MultipleDevicesError) Error() string {
	return fmt.Sprintf("%d matching devices found: %s", len(e.Ports), strings.Join(e.Ports, ", "))
}

func (e *MultipleDevicesError) Unwrap() error {
	return core.ErrMultipleDevices
}

// PortLister returns the system's serial ports.
type PortLister func() ([]*enumerator.PortDetails, error)

// ListPorts returns all serial ports with their USB details.
func ListPorts() ([]*enumerator.PortDetails, error) {
	return enumerator.GetDetailedPortsList()
}

// Detect returns the name of the single port matching m. It fails with
// core.ErrNoDevice when nothing matches and with a MultipleDevicesError when
// more than one port does.
func Detect(m DeviceMatch) (string, error) {
	return DetectWith(ListPorts, m)
}

// DetectWith is Detect using list to enumerate ports.
func DetectWith(list PortLister, m DeviceMatch) (string, error) {
	ports, err := list()
	if err != nil {
		return "", fmt.Errorf("listing serial ports: %w", err)
	}

	var found []string
	for _, p := range ports {
		if m.Matches(p) {
			found = append(found, p.Name)
		}
	}

	switch len(found) {
	case 0:
		return "", core.ErrNoDevice
	case 1:
		return found[0], nil
	default:
		return "", &MultipleDevicesError{Ports: found}
	}
}
