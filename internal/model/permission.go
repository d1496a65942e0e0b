package model

// Permission represents a string code for a specific system action.
type Permission string

const (
	// PermissionRunsRead allows viewing runs, assignments and exclusions.
	PermissionRunsRead Permission = "runs:read"

	// PermissionRunsWrite allows submitting new allocation runs.
	PermissionRunsWrite Permission = "runs:write"

	// PermissionRunsExport allows downloading run results as CSV/XLSX.
	PermissionRunsExport Permission = "runs:export"

	// PermissionScoresPreview allows computing scores without a run.
	PermissionScoresPreview Permission = "scores:preview"

	// PermissionAdminsWrite allows creating admin users.
	PermissionAdminsWrite Permission = "admins:write"
)

// AllPermissions is a slice of all available permissions.
var AllPermissions = []Permission{
	PermissionRunsRead,
	PermissionRunsWrite,
	PermissionRunsExport,
	PermissionScoresPreview,
	PermissionAdminsWrite,
}

// PermissionCodes returns AllPermissions as plain strings.
func PermissionCodes() []string {
	out := make([]string, len(AllPermissions))
	for i, p := range AllPermissions {
		out[i] = string(p)
	}
	return out
}
