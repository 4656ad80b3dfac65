// Package gatt maps request/response exchange onto GATT characteristics:
// service/characteristic creation on the server side, discovery with a
// bounded wait and a value cache on the client side.
package gatt

import "github.com/srg/bleprox/internal/radio"

// Characteristic describes one GATT characteristic: its (service,
// characteristic) UUID pair plus permission and property flags. Identity is
// the UUID pair only; two characteristics with the same UUIDs but different
// flags are the same characteristic.
type Characteristic struct {
	ServiceUUID        string
	CharacteristicUUID string
	Permissions        radio.Permission
	Properties         radio.Property
}

// Key is the comparable identity of a characteristic: the normalized UUID
// pair, nothing else. It is the map key for value caches.
type Key struct {
	ServiceUUID        string
	CharacteristicUUID string
}

// Key returns the characteristic's identity with both UUIDs normalized.
func (c Characteristic) Key() Key {
	return Key{
		ServiceUUID:        radio.NormalizeUUID(c.ServiceUUID),
		CharacteristicUUID: radio.NormalizeUUID(c.CharacteristicUUID),
	}
}

// Equal reports whether both characteristics identify the same GATT slot,
// comparing the UUID pair only.
func (c Characteristic) Equal(other Characteristic) bool {
	return c.Key() == other.Key()
}
