// model/role.go
package model

// Role is the closed set of roles the cache layers understand. Anything the
// host pushes that does not parse into one of these is treated as RoleUnknown
// and receives no caching.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleRH      Role = "RH"
	RoleUnknown Role = ""
)

// CacheLevel describes how much caching a role is entitled to.
type CacheLevel string

const (
	CacheLevelFull    CacheLevel = "full"
	CacheLevelLimited CacheLevel = "limited"
	CacheLevelNone    CacheLevel = "none"
)

// ParseRole maps a raw role string from the auth collaborator into the
// closed variant set.
func ParseRole(raw string) Role {
	switch raw {
	case string(RoleAdmin):
		return RoleAdmin
	case string(RoleRH):
		return RoleRH
	default:
		return RoleUnknown
	}
}

// TTLMultiplier returns the factor applied to rule TTLs for entries cached
// on behalf of this role. A multiplier of 0 disables caching entirely.
func (r Role) TTLMultiplier() float64 {
	switch r {
	case RoleAdmin:
		return 1.5
	case RoleRH:
		return 0.8
	default:
		return 0
	}
}

// CacheLevel returns the cache entitlement for this role.
func (r Role) CacheLevel() CacheLevel {
	switch r {
	case RoleAdmin:
		return CacheLevelFull
	case RoleRH:
		return CacheLevelLimited
	default:
		return CacheLevelNone
	}
}
