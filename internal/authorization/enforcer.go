package authorization

import (
	_ "embed"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/smallbiznis/pavetrack/internal/config"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const roleSubjectPrefix = "role:"

type grant struct {
	object string
	action string
}

var (
	adminGrants = []grant{
		{ObjectDeliveryCommitment, ActionCommitmentCancel},
		{ObjectApplicationRecord, ActionApplicationRecord},
		{ObjectApplicationRecord, ActionApplicationDelete},
		{ObjectStatusIntegrity, ActionStatusIntegrityRun},
		{ObjectAuditLog, ActionAuditRead},
	}
	editorGrants = []grant{
		{ObjectApplicationRecord, ActionApplicationRecord},
		{ObjectApplicationRecord, ActionApplicationDelete},
	}
)

// NewEnforcer loads persisted policies through the GORM adapter and keeps role
// grants in step with the ledger policy's role lists, including after reloads.
func NewEnforcer(db *gorm.DB, policy *config.LedgerPolicyHolder, log *zap.Logger) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := WatchLedgerPolicy(enforcer, policy, log); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

// NewMemoryEnforcer builds an enforcer without persistence.
func NewMemoryEnforcer(policy config.LedgerPolicy) (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := syncRolePolicies(enforcer, policy); err != nil {
		return nil, err
	}
	return enforcer, nil
}

// WatchLedgerPolicy syncs role grants now and on every accepted policy update.
func WatchLedgerPolicy(enforcer *casbin.SyncedEnforcer, holder *config.LedgerPolicyHolder, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("authorization.policy")
	if err := syncRolePolicies(enforcer, holder.Get()); err != nil {
		return err
	}
	holder.OnChange(func(policy config.LedgerPolicy) {
		if err := syncRolePolicies(enforcer, policy); err != nil {
			log.Error("role grants out of sync with ledger policy", zap.Error(err))
			return
		}
		log.Info("role grants synced",
			zap.Strings("admin_roles", policy.AdminRoles),
			zap.Strings("editor_roles", policy.EditorRoles),
		)
	})
	return nil
}

// RoleSubject maps a profile role name to its casbin subject.
func RoleSubject(role string) string {
	return roleSubjectPrefix + strings.ToLower(strings.TrimSpace(role))
}

func rolePolicies(policy config.LedgerPolicy) [][]string {
	var out [][]string
	add := func(roles []string, grants []grant) {
		for _, role := range roles {
			subject := RoleSubject(role)
			for _, g := range grants {
				out = append(out, []string{subject, g.object, g.action})
			}
		}
	}
	add(policy.AdminRoles, adminGrants)
	add(policy.EditorRoles, editorGrants)
	return out
}

func isManagedGrant(object, action string) bool {
	for _, g := range adminGrants {
		if g.object == object && g.action == action {
			return true
		}
	}
	return false
}

func policyKey(p []string) string {
	return strings.Join(p, "\x00")
}

// syncRolePolicies adds missing role grants and drops role grants the policy no
// longer names. Grants on other objects and user groupings are left alone.
func syncRolePolicies(enforcer *casbin.SyncedEnforcer, policy config.LedgerPolicy) error {
	desired := rolePolicies(policy)
	want := make(map[string]struct{}, len(desired))
	for _, p := range desired {
		want[policyKey(p)] = struct{}{}
	}

	current, err := enforcer.GetPolicy()
	if err != nil {
		return err
	}
	have := make(map[string]struct{}, len(current))
	var stale [][]string
	for _, p := range current {
		if len(p) < 3 || !strings.HasPrefix(p[0], roleSubjectPrefix) || !isManagedGrant(p[1], p[2]) {
			continue
		}
		rule := []string{p[0], p[1], p[2]}
		have[policyKey(rule)] = struct{}{}
		if _, ok := want[policyKey(rule)]; !ok {
			stale = append(stale, rule)
		}
	}

	for _, p := range stale {
		if _, err := enforcer.RemovePolicy(p[0], p[1], p[2]); err != nil {
			return err
		}
	}
	for _, p := range desired {
		key := policyKey(p)
		if _, ok := have[key]; ok {
			continue
		}
		if _, err := enforcer.AddPolicy(p[0], p[1], p[2]); err != nil {
			return err
		}
		have[key] = struct{}{}
	}
	return nil
}
