package authstate

// Standard OIDC claim names.
const (
	claimGivenName  = "given_name"
	claimFamilyName = "family_name"
	claimSubject    = "sub"
)

func (a *Adapter) claim(name string) (string, bool) {
	claims := a.lib.IdentityClaims()
	if claims == nil {
		return "", false
	}
	v, ok := claims[name].(string)
	return v, ok
}

// FirstName returns the given_name claim.
func (a *Adapter) FirstName() (string, bool) {
	return a.claim(claimGivenName)
}

// LastName returns the family_name claim.
func (a *Adapter) LastName() (string, bool) {
	return a.claim(claimFamilyName)
}

// UserID returns the sub claim.
func (a *Adapter) UserID() (string, bool) {
	return a.claim(claimSubject)
}

// FullName joins the name claims with a single space. It returns "" when
// neither is present.
func (a *Adapter) FullName() string {
	given, hasGiven := a.FirstName()
	family, hasFamily := a.LastName()

	switch {
	case hasGiven && hasFamily:
		return given + " " + family
	case hasGiven:
		return given
	case hasFamily:
		return family
	default:
		return ""
	}
}
