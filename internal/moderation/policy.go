package moderation

// AuthorizeAction decides whether an actor holding actorRole may take an
// action of the given kind against a user currently holding targetRole.
// Plain users may never act, bans need an admin, and only admins may act on
// admins.
func AuthorizeAction(actorRole, targetRole Role, kind ActionKind) bool {
	return staffMayTouch(actorRole, targetRole, kind)
}

// AuthorizeReversal decides whether an actor may revoke an action of the given
// kind whose target currently holds targetRole.
//
//	kind              moderator, target user  moderator, target admin  admin
//	user_banned       no                      no                       yes
//	everything else   yes                     no                       yes
//
// Reversing one's own action follows the same table: a moderator may undo
// their own warning but not their own ban.
func AuthorizeReversal(actorRole, targetRole Role, kind ActionKind) bool {
	return staffMayTouch(actorRole, targetRole, kind)
}

func staffMayTouch(actorRole, targetRole Role, kind ActionKind) bool {
	switch {
	case !actorRole.IsStaff():
		return false
	case actorRole == RoleAdmin:
		return true
	case kind == ActionUserBanned:
		return false
	}
	return targetRole != RoleAdmin
}
