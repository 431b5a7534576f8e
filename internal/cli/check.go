package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"pageaudit/internal/adapters/render"
	"pageaudit/internal/checks"
	"pageaudit/internal/config"
	"pageaudit/internal/domain"
	"pageaudit/internal/services/scoring"
)

var errBelowThreshold = errors.New("overall score below threshold")

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run the deterministic checks on a page and print a report",
	Long: `Run the SEO and accessibility checks on a local HTML file or a URL and
print the scores, grades and failing checks. AI analysis is not run, so the
content quality score is always 0.

Examples:
  pageaudit check -f page.html
  curl -s https://example.com | pageaudit check -f -
  pageaudit check -u https://example.com/blog/post --fail-under 70`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringP("file", "f", "", "HTML file to check, - for stdin")
	checkCmd.Flags().StringP("url", "u", "", "URL to fetch and check")
	checkCmd.Flags().StringP("language", "l", "en", "language sent as Accept-Language")
	checkCmd.Flags().String("site-host", "", "host treated as internal when classifying links")
	checkCmd.Flags().String("settings", "", "YAML settings file with scoring weights")
	checkCmd.Flags().StringP("format", "o", "text", "output format: text, json")
	checkCmd.Flags().Int("fail-under", 0, "exit non-zero when the overall score is below this value")
	checkCmd.MarkFlagsMutuallyExclusive("file", "url")
	checkCmd.MarkFlagsOneRequired("file", "url")
}

type checkReport struct {
	Source        string                 `json:"source"`
	Scores        domain.Scores          `json:"scores"`
	Grade         domain.Grade           `json:"grade"`
	Counts        scoring.SeverityCounts `json:"severity_counts"`
	Issues        []domain.Issue         `json:"issues"`
	SEO           []domain.CheckResult   `json:"seo_results"`
	Accessibility []domain.CheckResult   `json:"accessibility_results"`
}

func runCheck(cmd *cobra.Command, _ []string) error {
	file, _ := cmd.Flags().GetString("file")
	url, _ := cmd.Flags().GetString("url")
	language, _ := cmd.Flags().GetString("language")
	siteHost, _ := cmd.Flags().GetString("site-host")
	settingsPath, _ := cmd.Flags().GetString("settings")
	format, _ := cmd.Flags().GetString("format")
	failUnder, _ := cmd.Flags().GetInt("fail-under")

	if format != "text" && format != "json" {
		return fmt.Errorf("unknown format %q", format)
	}
	settings, err := config.LoadSettings(settingsPath)
	if err != nil {
		return err
	}

	source := file
	var page string
	if file != "" {
		page, err = readPage(cmd.InOrStdin(), file)
	} else {
		source = url
		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()
		page, err = render.New().Render(ctx, domain.Content{ID: url, Language: language, URL: url})
	}
	if err != nil {
		return err
	}

	report := audit(page, source, checks.Site{Host: siteHost}, settings)

	out := cmd.OutOrStdout()
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		err = enc.Encode(report)
	} else {
		err = writeText(out, report)
	}
	if err != nil {
		return err
	}
	if failUnder > 0 && report.Scores.Overall < failUnder {
		return fmt.Errorf("%w: %d < %d", errBelowThreshold, report.Scores.Overall, failUnder)
	}
	return nil
}

func readPage(stdin io.Reader, path string) (string, error) {
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(b), nil
}

func audit(page, source string, site checks.Site, settings config.Settings) checkReport {
	doc := checks.Parse(page)
	seo := checks.SEO(doc, site)
	a11y := checks.Accessibility(doc)
	scores := scoring.CalculateScores(seo, a11y, 0, scoring.WeightsFrom(settings))
	return checkReport{
		Source:        source,
		Scores:        scores,
		Grade:         scoring.GetGrade(scores.Overall),
		Counts:        scoring.CountBySeverity(append(append([]domain.CheckResult{}, seo...), a11y...)),
		Issues:        scoring.MergeAndPrioritize(seo, a11y, nil),
		SEO:           seo,
		Accessibility: a11y,
	}
}

func writeText(w io.Writer, r checkReport) error {
	var err error
	printf := func(format string, args ...any) {
		if err == nil {
			_, err = fmt.Fprintf(w, format, args...)
		}
	}
	printf("%s\n", r.Source)
	printf("Overall %d (%s, %s)  SEO %d  Accessibility %d\n",
		r.Scores.Overall, r.Grade.Letter, r.Grade.Label, r.Scores.SEO, r.Scores.Accessibility)
	printf("critical %d  major %d  minor %d  info %d\n\n",
		r.Counts.Critical, r.Counts.Major, r.Counts.Minor, r.Counts.Info)
	if len(r.Issues) == 0 {
		printf("No issues found.\n")
		return err
	}
	for _, is := range r.Issues {
		printf("  [%s] %s: %s\n", is.Severity, is.CheckID, is.Description)
		if is.Recommendation != "" {
			printf("      %s\n", is.Recommendation)
		}
	}
	return err
}
