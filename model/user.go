// model/user.go
package model

// User is the current-user descriptor pushed in by the auth collaborator
// whenever auth state changes. The cache core never establishes sessions
// itself; it only scopes data by this identity.
type User struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}
