package domain

// Severity is the ordinal importance of a finding: critical > major > minor > info > pass.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
	SeverityInfo     Severity = "info"
	SeverityPass     Severity = "pass"
)

// Rank orders severities for prioritization; unknown values sort last.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityMajor:
		return 1
	case SeverityMinor:
		return 2
	case SeverityInfo:
		return 3
	case SeverityPass:
		return 4
	default:
		return 5
	}
}
