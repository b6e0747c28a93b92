package auth

// Operator roles. Admins see everything and may force-close sessions and
// read the audit log; operators may open terminals and drive agent
// lifecycles on their hosts; viewers are read-only.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

// Operator is the identity the management layer resolves for each
// request and passes into the core for authorization checks.
type Operator struct {
	ID       string
	Username string
	Role     string
}

// Elevated reports whether the operator may open terminal sessions.
func (o Operator) Elevated() bool {
	return o.Role == RoleAdmin || o.Role == RoleOperator
}

// Admin reports whether the operator may read the audit log, see all
// sessions and force-close them.
func (o Operator) Admin() bool {
	return o.Role == RoleAdmin
}
