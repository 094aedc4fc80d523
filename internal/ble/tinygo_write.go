//go:build darwin || windows

package ble

// Write sends data as a write request, so ATT errors from the peer are
// reported.
func (c *tinyGoCharacteristic) Write(data []byte) error {
	_, err := c.char.Write(data)
	return err
}
