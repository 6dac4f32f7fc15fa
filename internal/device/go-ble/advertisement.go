package goble

import (
	"github.com/go-ble/ble"
)

// advertisedServices returns every service UUID an advertisement mentions,
// including the overflow area, as strings.
func advertisedServices(adv ble.Advertisement) []string {
	services := adv.Services()
	overflow := adv.OverflowService()

	result := make([]string, 0, len(services)+len(overflow))
	for _, u := range services {
		result = append(result, u.String())
	}
	for _, u := range overflow {
		result = append(result, u.String())
	}
	return result
}
