package domain

// Actor is the authenticated caller, passed explicitly into every service call.
type Actor struct {
	ID         string
	CustomerID string
	Email      string
	OpenID     string
	Roles      []string
}

func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (a Actor) Payer() Payer {
	return Payer{CustomerID: a.CustomerID, Email: a.Email, OpenID: a.OpenID}
}
