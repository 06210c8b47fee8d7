package ledger

// Role names a permission set in the access control registry.
type Role string

// AdminRole administers every role, pauses the contract and authorizes
// upgrades. Its identifier survives upgrades unchanged.
const AdminRole Role = "DEFAULT_ADMIN_ROLE"

// Gate is the access control registry plus the emergency stop.
// It holds no business logic beyond membership checks and the pause flag.
type Gate struct {
	members map[Role]map[Address]struct{}
	paused  bool
}

// NewGate creates a gate whose only member is admin, holding AdminRole.
func NewGate(admin Address) *Gate {
	g := &Gate{members: make(map[Role]map[Address]struct{})}
	if !admin.IsZero() {
		g.add(AdminRole, admin)
	}
	return g
}

// HasRole reports whether account holds role.
func (g *Gate) HasRole(role Role, account Address) bool {
	_, ok := g.members[role][account]
	return ok
}

// Paused reports whether the emergency stop is engaged.
func (g *Gate) Paused() bool {
	return g.paused
}

func (g *Gate) onlyAdmin(caller Address) error {
	if !g.HasRole(AdminRole, caller) {
		return ErrCallerIsNotAdmin
	}
	return nil
}

func (g *Gate) whenNotPaused() error {
	if g.paused {
		return ErrEnforcedPause
	}
	return nil
}

// grant adds account to role. It reports whether membership changed.
func (g *Gate) grant(caller Address, role Role, account Address) (bool, error) {
	if err := g.onlyAdmin(caller); err != nil {
		return false, err
	}
	if account.IsZero() {
		return false, ErrZeroAddress
	}
	if g.HasRole(role, account) {
		return false, nil
	}
	g.add(role, account)
	return true, nil
}

// revoke removes account from role. It reports whether membership changed.
func (g *Gate) revoke(caller Address, role Role, account Address) (bool, error) {
	if err := g.onlyAdmin(caller); err != nil {
		return false, err
	}
	if !g.HasRole(role, account) {
		return false, nil
	}
	delete(g.members[role], account)
	return true, nil
}

func (g *Gate) pause(caller Address) error {
	if err := g.onlyAdmin(caller); err != nil {
		return err
	}
	if g.paused {
		return ErrEnforcedPause
	}
	g.paused = true
	return nil
}

func (g *Gate) unpause(caller Address) error {
	if err := g.onlyAdmin(caller); err != nil {
		return err
	}
	if !g.paused {
		return ErrExpectedPause
	}
	g.paused = false
	return nil
}

func (g *Gate) add(role Role, account Address) {
	if g.members[role] == nil {
		g.members[role] = make(map[Address]struct{})
	}
	g.members[role][account] = struct{}{}
}

func (g *Gate) clone() *Gate {
	c := &Gate{members: make(map[Role]map[Address]struct{}, len(g.members)), paused: g.paused}
	for role, set := range g.members {
		for a := range set {
			c.add(role, a)
		}
	}
	return c
}
