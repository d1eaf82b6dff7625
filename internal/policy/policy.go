package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dtroode/electorate-server/internal/eligibility"
)

// Bundles holds the default permission sets implied by each role. The
// authenticated bundle applies to every user with a registered device.
type Bundles struct {
	Authenticated []Permission
	Admin         []Permission
	Developer     []Permission
}

// Policy is the resolved startup policy: role bundles plus compiled voter
// requirements.
type Policy struct {
	Bundles      Bundles
	Requirements []eligibility.Rule
}

type policyFile struct {
	VoterRequirements []eligibility.RuleSpec `yaml:"voter-requirements"`
	Bundles           map[string][]string    `yaml:"bundles"`
}

// Default returns the built-in policy: no voter requirements, admins hold the
// election and user management scopes, developers additionally hold the
// administration scope.
func Default() *Policy {
	return &Policy{Bundles: defaultBundles()}
}

func defaultBundles() Bundles {
	return Bundles{
		Authenticated: []Permission{VoteView, VoteCast},
		Admin: []Permission{
			ElectionCreate, ElectionEdit, ElectionCancel, ElectionViewSuspiciousBallots,
			UserManagementViewVoters, UserManagementAddVoter, UserManagementRemoveVoter,
		},
		Developer: []Permission{
			ElectionCreate, ElectionEdit, ElectionCancel, ElectionViewSuspiciousBallots,
			UserManagementViewVoters, UserManagementAddVoter, UserManagementRemoveVoter,
			AdministrationGrantPermissions, AdministrationRevokePermissions, AdministrationUpgradeServer,
		},
	}
}

// Load reads and validates a policy file. Unknown permissions, operators or
// attributes are configuration errors; the caller must treat them as fatal.
func Load(path string) (*Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	var file policyFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}

	rules, err := eligibility.Compile(file.VoterRequirements)
	if err != nil {
		return nil, fmt.Errorf("invalid voter requirements: %w", err)
	}

	bundles := defaultBundles()
	for role, names := range file.Bundles {
		perms, err := parseBundle(names)
		if err != nil {
			return nil, fmt.Errorf("invalid bundle for role %q: %w", role, err)
		}
		switch role {
		case "authenticated":
			bundles.Authenticated = perms
		case "admin":
			bundles.Admin = perms
		case "developer":
			bundles.Developer = perms
		default:
			return nil, fmt.Errorf("unknown role %q in bundles", role)
		}
	}

	return &Policy{Bundles: bundles, Requirements: rules}, nil
}

func parseBundle(names []string) ([]Permission, error) {
	perms := make([]Permission, 0, len(names))
	for _, name := range names {
		p, err := Parse(name)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, nil
}
