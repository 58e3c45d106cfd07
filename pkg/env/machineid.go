package env

import (
	"github.com/denisbrodbeck/machineid"
)

// BridgeID derives a stable bridge ID from the machine ID. The raw machine
// ID is not exposed on the network.
func BridgeID() string {
	id, err := machineid.ProtectedID("crsflink")
	if err != nil {
		return "bridge"
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}
