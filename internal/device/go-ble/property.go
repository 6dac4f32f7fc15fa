package goble

import (
	"github.com/go-ble/ble"
)

var propertyNames = []struct {
	flag ble.Property
	name string
}{
	{ble.CharBroadcast, "broadcast"},
	{ble.CharRead, "read"},
	{ble.CharWriteNR, "write-without-response"},
	{ble.CharWrite, "write"},
	{ble.CharNotify, "notify"},
	{ble.CharIndicate, "indicate"},
	{ble.CharSignedWrite, "authenticated-signed-writes"},
	{ble.CharExtended, "extended-properties"},
}

// PropertyNames lists the names of the flags set in p, in bit order.
func PropertyNames(p ble.Property) []string {
	names := make([]string, 0, len(propertyNames))
	for _, pn := range propertyNames {
		if p&pn.flag != 0 {
			names = append(names, pn.name)
		}
	}
	return names
}

// subscriptionMode picks notify when available, indicate otherwise.
// ok is false when the characteristic supports neither.
func subscriptionMode(p ble.Property) (indicate bool, ok bool) {
	switch {
	case p&ble.CharNotify != 0:
		return false, true
	case p&ble.CharIndicate != 0:
		return true, true
	default:
		return false, false
	}
}
