package model

// Permission represents a string code for a specific creator action.
type Permission string

const (
	// PermissionResultsRead allows viewing the full result of any session.
	PermissionResultsRead Permission = "results:read"

	// PermissionSessionsGrade allows assigning manual scores and feedback.
	PermissionSessionsGrade Permission = "sessions:grade"
)

// CreatorPermissions lists every permission a creator token may carry.
var CreatorPermissions = []Permission{
	PermissionResultsRead,
	PermissionSessionsGrade,
}

// PermissionStrings converts permissions to the string form carried in tokens.
func PermissionStrings(perms []Permission) []string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}
