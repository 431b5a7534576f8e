// Package checks holds the deterministic SEO and accessibility rule suites.
// Every check is a pure function of the parsed document: running a suite
// twice over the same markup yields identical results.
package checks

import (
	"math"

	"pageaudit/internal/domain"
)

// Check evaluates one rule.
type Check func(d *Document) domain.CheckResult

// rule carries the fixed identity and weight of a check.
type rule struct {
	id       string
	category domain.Category
	wcag     string
	title    string
	severity domain.Severity // severity reported on failure
	max      int
}

func (r rule) result(sev domain.Severity, earned int, desc, rec string) domain.CheckResult {
	if earned < 0 {
		earned = 0
	}
	if earned > r.max {
		earned = r.max
	}
	return domain.CheckResult{
		CheckID:        r.id,
		Category:       r.category,
		WCAG:           r.wcag,
		Severity:       sev,
		Title:          r.title,
		Description:    desc,
		Recommendation: rec,
		MaxPoints:      r.max,
		EarnedPoints:   earned,
	}
}

func (r rule) pass(desc string) domain.CheckResult {
	return r.result(domain.SeverityPass, r.max, desc, "")
}

func (r rule) fail(earned int, desc, rec string) domain.CheckResult {
	return r.result(r.severity, earned, desc, rec)
}

// outcome picks pass or fail with all-or-nothing points.
func (r rule) outcome(ok bool, passDesc, failDesc, rec string) domain.CheckResult {
	if ok {
		return r.pass(passDesc)
	}
	return r.fail(0, failDesc, rec)
}

// partial is max*(n-violations)/n rounded half away from zero. No applicable
// elements is a vacuous full score.
func partial(max, n, violations int) int {
	if n <= 0 {
		return max
	}
	if violations > n {
		violations = n
	}
	v := int(math.Round(float64(max) * float64(n-violations) / float64(n)))
	return min(max, v)
}

// Suite runs a fixed list of checks in order.
type Suite []Check

func (s Suite) Run(d *Document) []domain.CheckResult {
	out := make([]domain.CheckResult, 0, len(s))
	for _, c := range s {
		out = append(out, c(d))
	}
	return out
}
