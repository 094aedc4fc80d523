//go:build !darwin && !windows

package ble

// Write sends data as a write command. The Linux, HCI and SoftDevice
// stacks only offer writes without response, so a write the peer rejects
// is not reported here.
func (c *tinyGoCharacteristic) Write(data []byte) error {
	_, err := c.char.WriteWithoutResponse(data)
	return err
}
