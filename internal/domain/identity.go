package domain

// Role names known to the authorization layer. RolePremium is carried through
// verification but grants nothing extra in this core yet.
const (
	RoleUser    = "user"
	RolePremium = "premium"
)

// Identity is a verified user identity returned by the credential verifier.
type Identity struct {
	UserID   string
	Username string
	Roles    []string
}

func (i Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}
