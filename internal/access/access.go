package access

import "context"

// Privilege names the access levels the core consults before crossing a
// principal boundary. Read privileges are strictly weaker than write ones.
type Privilege int

const (
	PrivRead Privilege = iota
	PrivReadFreeBusy
	PrivBind
	PrivUnbind
	PrivWriteContent
	PrivWriteProperties
)

func (p Privilege) String() string {
	switch p {
	case PrivRead:
		return "read"
	case PrivReadFreeBusy:
		return "read-free-busy"
	case PrivBind:
		return "bind"
	case PrivUnbind:
		return "unbind"
	case PrivWriteContent:
		return "write-content"
	case PrivWriteProperties:
		return "write-properties"
	}
	return "unknown"
}

// Entity is anything access can be checked against.
type Entity interface {
	AccessPath() string
	AccessOwner() string
}

// Result carries the checker's decision and, when denied, the reason.
type Result struct {
	Allowed bool
	Reason  string
}

// Checker is the external permission evaluator. When alwaysReturnResult is
// false the caller intends to hide existence from unprivileged principals and
// maps a denial onto not-found.
type Checker interface {
	CheckAccess(ctx context.Context, principal string, ent Entity, priv Privilege, alwaysReturnResult bool) (Result, error)
}

// Grant allows one principal one privilege on one path subtree.
type Grant struct {
	Principal  string
	PathPrefix string
	Priv       Privilege
}

// StaticChecker is a table-driven evaluator: owners hold every privilege on
// their entities, everyone else only what a grant allows. It backs tests and
// single-node deployments; production wires a real evaluator.
type StaticChecker struct {
	grants []Grant
}

// NewStaticChecker builds a checker over a fixed grant table.
func NewStaticChecker(grants ...Grant) *StaticChecker {
	return &StaticChecker{grants: grants}
}

// CheckAccess implements Checker.
func (c *StaticChecker) CheckAccess(_ context.Context, principal string, ent Entity, priv Privilege, _ bool) (Result, error) {
	if principal != "" && principal == ent.AccessOwner() {
		return Result{Allowed: true}, nil
	}
	for _, g := range c.grants {
		if g.Principal != principal || g.Priv != priv {
			continue
		}
		path := ent.AccessPath()
		if path == g.PathPrefix || hasPrefixSlash(path, g.PathPrefix) {
			return Result{Allowed: true}, nil
		}
	}
	return Result{Allowed: false, Reason: "no grant for " + priv.String()}, nil
}

// AllowAll grants everything to everyone; development only.
type AllowAll struct{}

// CheckAccess implements Checker.
func (AllowAll) CheckAccess(context.Context, string, Entity, Privilege, bool) (Result, error) {
	return Result{Allowed: true}, nil
}

func hasPrefixSlash(path, prefix string) bool {
	return len(path) > len(prefix) && path[:len(prefix)] == prefix && path[len(prefix)] == '/'
}
