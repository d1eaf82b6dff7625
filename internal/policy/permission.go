// Package policy defines the closed permission catalog, role permission
// bundles and the policy file that configures bundles and voter requirements.
package policy

import (
	"fmt"
	"strings"
)

// Permission is an immutable (scope, action) pair from the closed catalog.
// Values compare by identity and are usable as map keys.
type Permission struct {
	scope  string
	action string
}

// Scope returns the permission's scope.
func (p Permission) Scope() string {
	return p.scope
}

// Action returns the permission's action.
func (p Permission) Action() string {
	return p.action
}

func (p Permission) String() string {
	return p.scope + "." + p.action
}

// catalog is the full set of recognized permissions. Construction of any
// (scope, action) pair outside of it fails.
var catalog = map[string][]string{
	"vote":           {"view", "cast"},
	"election":       {"create", "edit", "cancel", "view-suspicious-ballots"},
	"usermanagement": {"view-voters", "add-voter", "remove-voter"},
	"administration": {"grant-permissions", "revoke-permissions", "upgrade-server"},
}

var (
	VoteView                        = must("vote.view")
	VoteCast                        = must("vote.cast")
	ElectionCreate                  = must("election.create")
	ElectionEdit                    = must("election.edit")
	ElectionCancel                  = must("election.cancel")
	ElectionViewSuspiciousBallots   = must("election.view-suspicious-ballots")
	UserManagementViewVoters        = must("usermanagement.view-voters")
	UserManagementAddVoter          = must("usermanagement.add-voter")
	UserManagementRemoveVoter       = must("usermanagement.remove-voter")
	AdministrationGrantPermissions  = must("administration.grant-permissions")
	AdministrationRevokePermissions = must("administration.revoke-permissions")
	AdministrationUpgradeServer     = must("administration.upgrade-server")
)

// Parse builds a Permission from its "scope.action" form, failing for pairs
// outside the catalog.
func Parse(s string) (Permission, error) {
	scope, action, found := strings.Cut(s, ".")
	if !found {
		return Permission{}, fmt.Errorf("malformed permission %q", s)
	}

	for _, known := range catalog[scope] {
		if known == action {
			return Permission{scope: scope, action: action}, nil
		}
	}

	return Permission{}, fmt.Errorf("unknown permission %q", s)
}

func must(s string) Permission {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// All returns every permission in the catalog.
func All() []Permission {
	var perms []Permission
	for scope, actions := range catalog {
		for _, action := range actions {
			perms = append(perms, Permission{scope: scope, action: action})
		}
	}
	return perms
}
