// Package device defines the BLE plugin boundary used by the session
// controller: the Central interface, the peripheral profile constants, UUID
// normalization and the error taxonomy shared by every adapter.
//
// The go-ble implementation lives in the go-ble subpackage (package goble).
package device
