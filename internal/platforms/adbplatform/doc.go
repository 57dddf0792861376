// Package adbplatform is the cable transport. It polls the Android debug
// bridge for attached devices and reports them by serial number. The bridge
// offers no data channel to apps, so SendData always declines.
package adbplatform
