package ble

import (
	"github.com/google/uuid"
)

// Watchy GATT UUIDs. These are the discovery contract with remote centrals
// and must never change between releases.
var (
	ServiceUUID            = uuid.MustParse("80323644-3537-4F0B-A53B-CF494ECEAAB3")
	TimeCharacteristicUUID = uuid.MustParse("beb5483e-36e1-4688-b7f5-ea07361b26a8")
)

// Property is a bitmask of characteristic properties. Values match the
// Android BluetoothGattCharacteristic PROPERTY_* constants.
type Property int

const (
	PropertyRead            Property = 0x02
	PropertyWriteNoResponse Property = 0x04
	PropertyWrite           Property = 0x08
	PropertyNotify          Property = 0x10
	PropertyIndicate        Property = 0x20
)

// Permission is a bitmask of characteristic permissions.
type Permission int

const (
	PermissionRead  Permission = 0x01
	PermissionWrite Permission = 0x10
)

// CharacteristicSpec declares one characteristic of the service.
type CharacteristicSpec struct {
	UUID        uuid.UUID
	Properties  Property
	Permissions Permission
	Descriptors []uuid.UUID
}

// Readable reports whether centrals may read the characteristic.
func (c CharacteristicSpec) Readable() bool {
	return c.Properties&PropertyRead != 0 && c.Permissions&PermissionRead != 0
}

// Writable reports whether centrals may write the characteristic.
func (c CharacteristicSpec) Writable() bool {
	return c.Properties&(PropertyWrite|PropertyWriteNoResponse) != 0 && c.Permissions&PermissionWrite != 0
}

// Flags renders the properties as BlueZ GattCharacteristic1 flag strings.
func (c CharacteristicSpec) Flags() []string {
	var flags []string
	if c.Properties&PropertyRead != 0 {
		flags = append(flags, "read")
	}
	if c.Properties&PropertyWrite != 0 {
		flags = append(flags, "write")
	}
	if c.Properties&PropertyWriteNoResponse != 0 {
		flags = append(flags, "write-without-response")
	}
	if c.Properties&PropertyNotify != 0 {
		flags = append(flags, "notify")
	}
	if c.Properties&PropertyIndicate != 0 {
		flags = append(flags, "indicate")
	}
	return flags
}

// Profile is the static definition of the advertised service.
type Profile struct {
	Service         uuid.UUID
	Characteristics []CharacteristicSpec
}

// WatchyProfile returns the service profile served by the peripheral: one
// primary service with a single read-only time characteristic.
func WatchyProfile() Profile {
	return Profile{
		Service: ServiceUUID,
		Characteristics: []CharacteristicSpec{
			{
				UUID:        TimeCharacteristicUUID,
				Properties:  PropertyRead,
				Permissions: PermissionRead,
			},
		},
	}
}

// Characteristic looks up a declared characteristic by UUID.
func (p Profile) Characteristic(u uuid.UUID) (CharacteristicSpec, bool) {
	for _, c := range p.Characteristics {
		if c.UUID == u {
			return c, true
		}
	}
	return CharacteristicSpec{}, false
}

// HasDescriptor reports whether descriptor d is declared on characteristic c.
func (p Profile) HasDescriptor(c, d uuid.UUID) bool {
	spec, ok := p.Characteristic(c)
	if !ok {
		return false
	}
	for _, u := range spec.Descriptors {
		if u == d {
			return true
		}
	}
	return false
}
