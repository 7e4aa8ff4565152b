package domain

type GroupID int64

type Group struct {
	ID      GroupID `json:"id"`
	Address string  `json:"address"`
	Name    string  `json:"name"`
}

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// GroupMember represents user's participation meta for a group.
// No transport or lifecycle logic here.
type GroupMember struct {
	User *User
	Role Role
}

// NewGroupMember avoids raw literals in adapters and keeps construction obvious.
func NewGroupMember(user *User, role Role) *GroupMember {
	if role == "" {
		role = RoleMember
	}
	return &GroupMember{User: user, Role: role}
}
