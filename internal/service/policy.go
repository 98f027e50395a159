package service

import (
	"github.com/noah-isme/docvault-api/internal/models"
)

// DocumentPolicy decides whether an actor may act on documents. Coordinator
// operations consult it before any side effect.
type DocumentPolicy interface {
	CanView(actor models.Actor, doc *models.Document) bool
	CanCreate(actor models.Actor, teamID string, folderID *string) bool
	CanEdit(actor models.Actor, doc *models.Document) bool
	CanDelete(actor models.Actor, doc *models.Document) bool
	CanManageTeam(actor models.Actor, teamID string) bool
}

// RolePolicy grants access by team membership and role. Superadmins act on every team.
type RolePolicy struct{}

// NewRolePolicy returns the role based policy.
func NewRolePolicy() RolePolicy {
	return RolePolicy{}
}

func sameTeam(actor models.Actor, teamID string) bool {
	if actor.UserID == "" {
		return false
	}
	return actor.Role == models.RoleSuperAdmin || (actor.TeamID != "" && actor.TeamID == teamID)
}

func canWrite(role models.UserRole) bool {
	switch role {
	case models.RoleSuperAdmin, models.RoleAdmin, models.RoleEditor:
		return true
	}
	return false
}

// CanView allows any member of the owning team.
func (RolePolicy) CanView(actor models.Actor, doc *models.Document) bool {
	return doc != nil && sameTeam(actor, doc.TeamID)
}

// CanCreate allows editors and above within their team.
func (RolePolicy) CanCreate(actor models.Actor, teamID string, _ *string) bool {
	return sameTeam(actor, teamID) && canWrite(actor.Role)
}

// CanEdit allows editors and above within the owning team.
func (RolePolicy) CanEdit(actor models.Actor, doc *models.Document) bool {
	return doc != nil && sameTeam(actor, doc.TeamID) && canWrite(actor.Role)
}

// CanDelete allows team admins, and editors on documents they created.
func (RolePolicy) CanDelete(actor models.Actor, doc *models.Document) bool {
	if doc == nil || !sameTeam(actor, doc.TeamID) {
		return false
	}
	switch actor.Role {
	case models.RoleSuperAdmin, models.RoleAdmin:
		return true
	case models.RoleEditor:
		return doc.CreatorID == actor.UserID
	}
	return false
}

// CanManageTeam allows team admins to manage team wide settings such as retention tags.
func (RolePolicy) CanManageTeam(actor models.Actor, teamID string) bool {
	if !sameTeam(actor, teamID) {
		return false
	}
	return actor.Role == models.RoleSuperAdmin || actor.Role == models.RoleAdmin
}
