// permcache/rules.go
package permcache

import "github.com/vagasapp/cachecore/model"

// DefaultRules is the static rule set for the job-board collections.
// RH works the postings pipeline but never user administration or system
// configuration; those stay admin-only.
func DefaultRules() []model.PermissionRule {
	return []model.PermissionRule{
		{
			Resource: "vagas",
			AllowedActions: map[string][]model.Role{
				"read":   {model.RoleAdmin, model.RoleRH},
				"create": {model.RoleAdmin, model.RoleRH},
				"update": {model.RoleAdmin, model.RoleRH},
				"delete": {model.RoleAdmin},
			},
			TTLMultiplier: 1.0,
			Priority:      model.PriorityHighEntry,
		},
		{
			Resource: "usuarios",
			AllowedActions: map[string][]model.Role{
				"read":   {model.RoleAdmin},
				"create": {model.RoleAdmin},
				"update": {model.RoleAdmin},
				"delete": {model.RoleAdmin},
			},
			TTLMultiplier: 1.0,
			Priority:      model.PriorityMediumEntry,
		},
		{
			Resource: "comunicados",
			AllowedActions: map[string][]model.Role{
				"read":   {model.RoleAdmin, model.RoleRH},
				"create": {model.RoleAdmin},
				"update": {model.RoleAdmin},
				"delete": {model.RoleAdmin},
			},
			TTLMultiplier: 1.0,
			Priority:      model.PriorityLowEntry,
		},
		{
			Resource: "configuracoes",
			AllowedActions: map[string][]model.Role{
				"read":   {model.RoleAdmin},
				"update": {model.RoleAdmin},
			},
			TTLMultiplier: 2.0,
			Priority:      model.PriorityHighEntry,
		},
	}
}
