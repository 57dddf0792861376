package adbplatform

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/types"
)

// Device is one line of `adb devices -l`.
type Device struct {
	Serial     string
	State      string
	Attributes map[string]string
}

// Ready reports whether the device accepts commands.
func (d Device) Ready() bool { return d.State == "device" }

// ParseDevices reads the output of `adb devices -l`. Daemon chatter and
// the header line are skipped.
func ParseDevices(out []byte) []Device {
	var devices []Device
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "*") || strings.HasPrefix(line, "List of devices") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		d := Device{Serial: fields[0], State: fields[1], Attributes: make(map[string]string)}
		for _, f := range fields[2:] {
			if k, v, ok := strings.Cut(f, ":"); ok {
				d.Attributes[k] = v
			}
		}
		devices = append(devices, d)
	}
	return devices
}

// observation converts a device line. A device that is attached but not
// yet authorized is reported as established only.
func (d Device) observation() types.Observation {
	meta := map[string]any{"state": d.State}
	for k, v := range d.Attributes {
		meta[k] = v
	}
	name := d.Attributes["model"]
	if name != "" {
		name = strings.ReplaceAll(name, "_", " ")
	}
	return types.Observation{
		PlatformID:   types.PlatformADB,
		LocalID:      d.Serial,
		Serial:       d.Serial,
		Name:         name,
		Established:  !d.Ready(),
		Capabilities: []types.Capability{types.CapabilityPing, types.CapabilityConfigure},
		Meta:         meta,
	}
}
