package gatt

import "provision-ble/internal/logging"

// Static DeviceInfo payload. File-backed metadata may replace this later.
const deviceInfoJSON = `{"Company":"PiDevelop.com","Developer":"james@pidevelop.com","project_name":"Provision BLE"}`

// ExportDeviceInfo publishes the read-only DeviceInfo characteristic.
func ExportDeviceInfo(r *Registry) error {
	err := r.Export(&Characteristic{
		UUID:        UUIDDeviceInfo,
		Path:        CharDeviceInfo,
		ServicePath: ServicePath,
		Flags:       []string{"read"},
		Read: func() []byte {
			logging.Info("DeviceInfo ReadValue")
			return []byte(deviceInfoJSON)
		},
	})
	if err != nil {
		return err
	}
	logging.Info("DeviceInfo characteristic exported")
	return nil
}
