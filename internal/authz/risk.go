package authz

import (
	"github.com/dhawalhost/wardgate/internal/audit"
	"github.com/dhawalhost/wardgate/internal/catalog"
	"github.com/dhawalhost/wardgate/internal/policy"
)

type riskInput struct {
	kind    audit.Action
	reason  string
	perm    *catalog.Permission
	outcome policy.Outcome
	mfa     bool
}

func severityScore(s policy.Severity) int {
	switch s {
	case policy.SeverityCritical:
		return 80
	case policy.SeverityHigh:
		return 60
	case policy.SeverityMedium:
		return 40
	case policy.SeverityLow:
		return 20
	}
	return 0
}

// score rates a decision on a 0-100 scale and names the contributing factors.
func score(in riskInput) (int, []string) {
	s := 0
	factors := []string{}

	if in.perm != nil {
		s += in.perm.Metadata.RiskLevel.Score()
		factors = append(factors, "permission_risk_"+string(riskLevel(in.perm)))
	}

	switch in.kind {
	case audit.ActionSystemError:
		s += 50
		factors = append(factors, "evaluation_error")
	case audit.ActionAccessDenied:
		switch in.reason {
		case ReasonUserInactive:
			s += 60
			factors = append(factors, "inactive_or_unknown_user")
		case ReasonInsufficient:
			s += 40
			factors = append(factors, "no_matching_permission")
		case ReasonScope:
			// Half weight for the permission: the user holds it, just not for this record.
			s = s/2 + 30
			factors = append(factors, "out_of_scope_access")
		case ReasonPolicyDenied:
			if d := in.outcome.Deny; d != nil {
				if sev := severityScore(d.Severity); sev > s {
					s = sev
				}
				factors = append(factors, "policy_denied:"+d.PolicyID)
			}
			s += 10
		}
	case audit.ActionPermissionGranted:
		if sev := in.outcome.MaxSeverity(); sev != "" {
			s += severityScore(sev) / 4
			factors = append(factors, "policy_match_"+string(sev))
		}
		if in.mfa {
			factors = append(factors, "mfa_required")
		}
	}

	if s > 100 {
		s = 100
	}
	return s, factors
}

func riskLevel(p *catalog.Permission) catalog.RiskLevel {
	if p.Metadata.RiskLevel == "" {
		return catalog.RiskLow
	}
	return p.Metadata.RiskLevel
}
