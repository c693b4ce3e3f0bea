package model

// Permission represents a string code for a specific system action.
type Permission string

const (
	// PermissionSessionsRead allows viewing sessions, answers, proctor logs
	// and the live monitor.
	PermissionSessionsRead Permission = "sessions:read"

	// PermissionSessionsGrade allows finalizing the grade of a submitted session.
	PermissionSessionsGrade Permission = "sessions:grade"
)

// AllPermissions is a slice of all available permissions.
var AllPermissions = []Permission{
	PermissionSessionsRead,
	PermissionSessionsGrade,
}
