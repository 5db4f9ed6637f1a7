// Package rbac decides which clinic roles may perform which actions.
package rbac

import "github.com/FireBladesAdi/dental-form-pro/internal/intake"

type Action string

const (
	ActionViewClinic      Action = "view_clinic"
	ActionCheckIn         Action = "check_in"
	ActionReadTemplates   Action = "read_templates"
	ActionEditTemplates   Action = "edit_templates"
	ActionManageSessions  Action = "manage_sessions"
	ActionReadSubmissions Action = "read_submissions"
	ActionEditSubmissions Action = "edit_submissions"
)

func Can(role intake.Role, action Action) bool {
	switch role {
	case intake.RoleAdmin:
		return action != ActionEditTemplates
	case intake.RoleDesigner:
		return action == ActionViewClinic || action == ActionCheckIn || action == ActionReadTemplates || action == ActionEditTemplates
	case intake.RolePatient:
		return action == ActionViewClinic || action == ActionCheckIn
	default:
		return false
	}
}

// owners is the role blamed when a passcode for an action is wrong.
var owners = map[Action]intake.Role{
	ActionReadTemplates:   intake.RoleDesigner,
	ActionEditTemplates:   intake.RoleDesigner,
	ActionManageSessions:  intake.RoleAdmin,
	ActionReadSubmissions: intake.RoleAdmin,
	ActionEditSubmissions: intake.RoleAdmin,
}

// StaffRoles lists the passcode-holding roles allowed to perform action, its
// owner first. public reports that patients may perform it without a
// passcode. An unknown action is neither public nor allowed to anyone.
func StaffRoles(action Action) (roles []intake.Role, public bool) {
	if Can(intake.RolePatient, action) {
		return nil, true
	}
	owner, ok := owners[action]
	if !ok {
		return nil, false
	}
	roles = []intake.Role{owner}
	for _, role := range []intake.Role{intake.RoleDesigner, intake.RoleAdmin} {
		if role != owner && Can(role, action) {
			roles = append(roles, role)
		}
	}
	return roles, false
}
