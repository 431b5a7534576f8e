package checks

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/publicsuffix"

	"pageaudit/internal/domain"
)

// Site is the context SEO checks need to tell internal from external links.
type Site struct {
	Host string
}

// registrable reduces a host to its eTLD+1 so www.example.com and
// example.com compare equal.
func registrable(host string) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if h, _, ok := strings.Cut(host, ":"); ok {
		host = h
	}
	if r, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return r
	}
	return host
}

// internal reports whether href points at the audited site.
func (s Site) internal(href string) bool {
	if strings.HasPrefix(href, "/") && !strings.HasPrefix(href, "//") {
		return true
	}
	u, err := url.Parse(href)
	if err != nil || u.Host == "" || s.Host == "" {
		return false
	}
	return registrable(u.Host) == registrable(s.Host)
}

// external reports whether href is an absolute http(s) link off-site.
func (s Site) external(href string) bool {
	lower := strings.ToLower(href)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return false
	}
	return !s.internal(href)
}

var nodePathRe = regexp.MustCompile(`/node/\d+`)

const minWordCount = 300

func seoRule(id, title string, sev domain.Severity, max int) rule {
	return rule{id: id, category: domain.CategorySEO, title: title, severity: sev, max: max}
}

var (
	seoTitlePresence    = seoRule("seo_title_presence", "Page title", domain.SeverityCritical, 10)
	seoTitleLength      = seoRule("seo_title_length", "Title length", domain.SeverityMajor, 8)
	seoMetaDescPresence = seoRule("seo_meta_description_presence", "Meta description", domain.SeverityCritical, 10)
	seoMetaDescLength   = seoRule("seo_meta_description_length", "Meta description length", domain.SeverityMinor, 5)
	seoSingleH1         = seoRule("seo_single_h1", "H1 heading presence", domain.SeverityCritical, 10)
	seoNoMultipleH1     = seoRule("seo_no_multiple_h1", "Single H1 only", domain.SeverityMajor, 5)
	seoHeadingHierarchy = seoRule("seo_heading_hierarchy", "Heading hierarchy", domain.SeverityMajor, 8)
	seoImageAlt         = seoRule("seo_image_alt_text", "Image alt text", domain.SeverityMajor, 8)
	seoInternalLinks    = seoRule("seo_internal_links", "Internal links", domain.SeverityMinor, 5)
	seoExternalLinksRel = seoRule("seo_external_links_rel", "External link rel attributes", domain.SeverityInfo, 3)
	seoCanonical        = seoRule("seo_canonical_url", "Canonical URL", domain.SeverityMajor, 8)
	seoSchemaOrg        = seoRule("seo_schema_org", "Schema.org markup", domain.SeverityMinor, 5)
	seoOpenGraph        = seoRule("seo_open_graph", "Open Graph tags", domain.SeverityMinor, 5)
	seoTwitterCard      = seoRule("seo_twitter_card", "Twitter card tags", domain.SeverityInfo, 3)
	seoCleanURL         = seoRule("seo_clean_url", "Clean URL structure", domain.SeverityMinor, 4)
	seoNoNoindex        = seoRule("seo_no_noindex", "No accidental noindex", domain.SeverityCritical, 8)
	seoContentLength    = seoRule("seo_content_length", "Content length", domain.SeverityMinor, 5)
)

// SEOSuite returns the 17 SEO checks in report order.
func SEOSuite(site Site) Suite {
	return Suite{
		checkTitlePresence,
		checkTitleLength,
		checkMetaDescriptionPresence,
		checkMetaDescriptionLength,
		checkSingleH1,
		checkNoMultipleH1,
		checkHeadingHierarchy,
		checkSEOImageAlt,
		func(d *Document) domain.CheckResult { return checkInternalLinks(d, site) },
		func(d *Document) domain.CheckResult { return checkExternalLinksRel(d, site) },
		checkCanonicalURL,
		checkSchemaOrg,
		checkOpenGraph,
		checkTwitterCard,
		checkCleanURL,
		checkNoNoindex,
		checkContentLength,
	}
}

// SEO runs the SEO suite over d.
func SEO(d *Document, site Site) []domain.CheckResult {
	return SEOSuite(site).Run(d)
}

func checkTitlePresence(d *Document) domain.CheckResult {
	return seoTitlePresence.outcome(d.MetaTitle() != "",
		"Page has a title tag.",
		"Page is missing a title tag.",
		"Add a descriptive <title> tag to the page.")
}

func checkTitleLength(d *Document) domain.CheckResult {
	if d.First(atom.Title) == nil {
		return seoTitleLength.fail(0, "No title tag found to check length.", "Add a title tag with 30-60 characters.")
	}
	n := utf8.RuneCountInString(d.MetaTitle())
	desc := fmt.Sprintf("Title length is %d characters (optimal: 30-60).", n)
	return seoTitleLength.outcome(n >= 30 && n <= 60, desc, desc,
		"Adjust the title to be between 30 and 60 characters.")
}

func checkMetaDescriptionPresence(d *Document) domain.CheckResult {
	return seoMetaDescPresence.outcome(d.MetaDescription() != "",
		"Page has a meta description.",
		"Page is missing a meta description.",
		"Add a meta description tag with a compelling summary of the page content.")
}

func checkMetaDescriptionLength(d *Document) domain.CheckResult {
	if d.Meta("name", "description") == nil {
		return seoMetaDescLength.fail(0, "No meta description found.", "Add a meta description with 120-160 characters.")
	}
	n := utf8.RuneCountInString(d.MetaDescription())
	desc := fmt.Sprintf("Meta description is %d characters (optimal: 120-160).", n)
	return seoMetaDescLength.outcome(n >= 120 && n <= 160, desc, desc,
		"Adjust the meta description to be between 120 and 160 characters.")
}

func checkSingleH1(d *Document) domain.CheckResult {
	return seoSingleH1.outcome(len(d.All(atom.H1)) >= 1,
		"Page has an H1 heading.",
		"Page is missing an H1 heading.",
		"Add exactly one H1 heading that describes the main topic of the page.")
}

func checkNoMultipleH1(d *Document) domain.CheckResult {
	n := len(d.All(atom.H1))
	return seoNoMultipleH1.outcome(n <= 1,
		"Page has at most one H1.",
		fmt.Sprintf("Page has %d H1 headings. Only one is recommended.", n),
		"Reduce to a single H1 heading. Use H2-H6 for subheadings.")
}

func checkHeadingHierarchy(d *Document) domain.CheckResult {
	headings := d.headings()
	if len(headings) == 0 {
		return seoHeadingHierarchy.fail(0, "No headings found on the page.", "Add a logical heading structure starting with H1.")
	}
	return seoHeadingHierarchy.outcome(!levelSkipped(headings),
		"Heading hierarchy is properly structured.",
		"Heading hierarchy has level skips (e.g., H2 to H4).",
		"Ensure headings follow a logical order without skipping levels.")
}

func checkSEOImageAlt(d *Document) domain.CheckResult {
	images := d.All(atom.Img)
	if len(images) == 0 {
		return seoImageAlt.pass("No images found on the page.")
	}
	missing := 0
	for _, img := range images {
		if !hasAttr(img, "alt") {
			missing++
		}
	}
	if missing == 0 {
		return seoImageAlt.pass(fmt.Sprintf("All %d images have alt attributes.", len(images)))
	}
	return seoImageAlt.fail(partial(seoImageAlt.max, len(images), missing),
		fmt.Sprintf("%d of %d images are missing alt attributes.", missing, len(images)),
		"Add descriptive alt text to all images.")
}

func links(d *Document) []*html.Node {
	return d.Filter(func(n *html.Node) bool { return n.DataAtom == atom.A && hasAttr(n, "href") })
}

func checkInternalLinks(d *Document, site Site) domain.CheckResult {
	internal := 0
	for _, a := range links(d) {
		href, _ := attr(a, "href")
		if site.internal(strings.TrimSpace(href)) {
			internal++
		}
	}
	return seoInternalLinks.outcome(internal > 0,
		fmt.Sprintf("Found %d internal links.", internal),
		"No internal links found on the page.",
		"Add internal links to relevant content on your site.")
}

func checkExternalLinksRel(d *Document, site Site) domain.CheckResult {
	external, missingRel := 0, 0
	for _, a := range links(d) {
		href, _ := attr(a, "href")
		if !site.external(strings.TrimSpace(href)) {
			continue
		}
		external++
		if !hasAttr(a, "rel") {
			missingRel++
		}
	}
	if external == 0 {
		return seoExternalLinksRel.pass("No external links found.")
	}
	return seoExternalLinksRel.outcome(missingRel == 0,
		fmt.Sprintf("All %d external links have rel attributes.", external),
		fmt.Sprintf("%d of %d external links are missing rel attributes.", missingRel, external),
		`Add rel="noopener" or rel="nofollow" to external links as appropriate.`)
}

// canonical returns the first <link rel="canonical">.
func canonical(d *Document) *html.Node {
	for _, n := range d.All(atom.Link) {
		rel, _ := attr(n, "rel")
		for _, tok := range strings.Fields(rel) {
			if strings.EqualFold(tok, "canonical") {
				return n
			}
		}
	}
	return nil
}

func checkCanonicalURL(d *Document) domain.CheckResult {
	return seoCanonical.outcome(canonical(d) != nil,
		"Page has a canonical URL.",
		"Page is missing a canonical URL.",
		`Add a <link rel="canonical"> tag pointing to the preferred URL.`)
}

func checkSchemaOrg(d *Document) domain.CheckResult {
	structured := d.Filter(func(n *html.Node) bool {
		if n.DataAtom == atom.Script {
			t, _ := attr(n, "type")
			return strings.EqualFold(strings.TrimSpace(t), "application/ld+json")
		}
		return hasAttr(n, "itemtype")
	})
	return seoSchemaOrg.outcome(len(structured) > 0,
		"Page contains structured data markup.",
		"No Schema.org markup found.",
		"Add JSON-LD structured data to improve search engine understanding.")
}

func checkOpenGraph(d *Document) domain.CheckResult {
	count := 0
	for _, p := range []string{"og:title", "og:description", "og:image"} {
		if d.Meta("property", p) != nil {
			count++
		}
	}
	if count >= 2 {
		return seoOpenGraph.pass(fmt.Sprintf("Found %d/3 essential Open Graph tags.", count))
	}
	return seoOpenGraph.fail(partial(seoOpenGraph.max, 3, 3-count),
		fmt.Sprintf("Only %d/3 essential Open Graph tags found (og:title, og:description, og:image).", count),
		"Add Open Graph meta tags for better social media sharing.")
}

func checkTwitterCard(d *Document) domain.CheckResult {
	return seoTwitterCard.outcome(d.Meta("name", "twitter:card") != nil,
		"Page has Twitter card meta tags.",
		"No Twitter card meta tags found.",
		"Add Twitter card meta tags for better Twitter/X sharing.")
}

func checkCleanURL(d *Document) domain.CheckResult {
	link := canonical(d)
	if link == nil {
		return seoCleanURL.fail(0, "No canonical URL to evaluate.", "Add a canonical URL to evaluate URL structure.")
	}
	href, _ := attr(link, "href")
	clean := !strings.Contains(href, "?") && !nodePathRe.MatchString(href)
	return seoCleanURL.outcome(clean,
		"URL structure is clean and SEO-friendly.",
		"URL contains query parameters or raw node IDs.",
		"Use URL aliases with descriptive, keyword-rich paths.")
}

func checkNoNoindex(d *Document) domain.CheckResult {
	noindex := false
	if m := d.Meta("name", "robots"); m != nil {
		content, _ := attr(m, "content")
		noindex = strings.Contains(strings.ToLower(content), "noindex")
	}
	if noindex {
		return seoNoNoindex.fail(0,
			"Page has a noindex robots meta tag. Search engines will not index this page.",
			"Remove the noindex directive if this page should be indexed by search engines.")
	}
	return seoNoNoindex.pass("Page does not have a noindex directive.")
}

func checkContentLength(d *Document) domain.CheckResult {
	words := WordCount(d.Text())
	desc := fmt.Sprintf("Page contains approximately %d words (minimum recommended: %d).", words, minWordCount)
	if words >= minWordCount {
		return seoContentLength.pass(desc)
	}
	return seoContentLength.fail(partial(seoContentLength.max, minWordCount, minWordCount-words),
		desc, "Add more content to provide comprehensive coverage of the topic.")
}
