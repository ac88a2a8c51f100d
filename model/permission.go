// model/permission.go
package model

import "time"

type Priority string

const (
	PriorityLowEntry    Priority = "low"
	PriorityMediumEntry Priority = "medium"
	PriorityHighEntry   Priority = "high"
)

// Rank orders entry priorities for pressure eviction; lower evicts first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHighEntry:
		return 2
	case PriorityMediumEntry:
		return 1
	default:
		return 0
	}
}

// PermissionRule is the static, role-agnostic description of which roles may
// perform which actions on a resource, plus how aggressively results for
// that resource may be cached.
type PermissionRule struct {
	Resource       string            `json:"resource"`
	AllowedActions map[string][]Role `json:"allowed_actions"` // action -> roles
	TTLMultiplier  float64           `json:"ttl_multiplier"`
	Priority       Priority          `json:"priority"`
}

// Permission is one granted (resource, action) pair.
type Permission struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

// UserPermissionProfile is derived per logged-in user from the rule set.
// Created on login, discarded on logout; drives whether an entry may be
// written to or read from the permission cache and what TTL applies.
type UserPermissionProfile struct {
	UserID             string       `json:"user_id"`
	Role               Role         `json:"role"`
	GrantedPermissions []Permission `json:"granted_permissions"`
	CacheLevel         CacheLevel   `json:"cache_level"`
	ExpiresAt          time.Time    `json:"expires_at"`
}

// HasPermission reports whether the profile grants (resource, action).
func (p *UserPermissionProfile) HasPermission(resource, action string) bool {
	if p == nil {
		return false
	}
	for _, perm := range p.GrantedPermissions {
		if perm.Resource == resource && perm.Action == action {
			return true
		}
	}
	return false
}
