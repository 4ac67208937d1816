// Package identity is the role registry: which wallet is a village office,
// which is a registry office, and which belongs to a registered citizen.
package identity

import (
	"time"

	id "dukcapil/pkg/domain"
)

// Role is the permission class of an actor.
type Role string

const (
	RoleNone           Role = ""
	RoleVillageOffice  Role = "village_office"
	RoleRegistryOffice Role = "registry_office"
	RoleCitizen        Role = "citizen"
)

// Village is a registered village (kalurahan) office.
type Village struct {
	ID           id.VillageID `json:"id"`
	Name         string       `json:"name"`
	Address      string       `json:"address"`
	Office       id.ActorID   `json:"office"`
	RegisteredAt time.Time    `json:"registered_at"`
}

// Citizen binds a wallet to a NIK.
type Citizen struct {
	NIK          id.NIK     `json:"nik"`
	Wallet       id.ActorID `json:"wallet"`
	RegisteredAt time.Time  `json:"registered_at"`
}

// Principal is the resolved identity of an actor.
type Principal struct {
	Actor   id.ActorID
	Role    Role
	Village id.VillageID
	NIK     id.NIK
}
