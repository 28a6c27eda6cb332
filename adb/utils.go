package adb

import (
	"fmt"
	"strings"
)

const (
	statusOkay = "OKAY"
	statusFail = "FAIL"
)

func encodeCommand(cmd string) []byte {
	return []byte(fmt.Sprintf("%04x%s", len(cmd), cmd))
}

// DeviceState is the connection state reported by host:devices.
type DeviceState string

const (
	DeviceStateOnline       DeviceState = "device"
	DeviceStateOffline      DeviceState = "offline"
	DeviceStateUnauthorized DeviceState = "unauthorized"
	DeviceStateRecovery     DeviceState = "recovery"
	DeviceStateUnknown      DeviceState = "unknown"
)

type Device struct {
	Serial      string      `json:"serial"`
	State       DeviceState `json:"state"`
	Product     string      `json:"product,omitempty"`
	Model       string      `json:"model,omitempty"`
	Device      string      `json:"device,omitempty"`
	TransportID string      `json:"transport_id,omitempty"`
}

// parseDevices reads the output of host:devices-l, one device per line:
//
//	emulator-5554  device product:sdk_gphone64 model:sdk_gphone64 device:emu64 transport_id:1
func parseDevices(out string) []Device {
	var devices []Device
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		d := Device{Serial: fields[0], State: DeviceState(fields[1])}
		switch d.State {
		case DeviceStateOnline, DeviceStateOffline, DeviceStateUnauthorized, DeviceStateRecovery:
		default:
			d.State = DeviceStateUnknown
		}
		for _, kv := range fields[2:] {
			k, v, ok := strings.Cut(kv, ":")
			if !ok {
				continue
			}
			switch k {
			case "product":
				d.Product = v
			case "model":
				d.Model = v
			case "device":
				d.Device = v
			case "transport_id":
				d.TransportID = v
			}
		}
		devices = append(devices, d)
	}
	return devices
}
