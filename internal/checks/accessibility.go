package checks

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"pageaudit/internal/domain"
)

func a11yRule(id, title, wcag string, sev domain.Severity, max int) rule {
	return rule{id: id, category: domain.CategoryAccessibility, wcag: wcag, title: title, severity: sev, max: max}
}

var (
	a11yImageAlt         = a11yRule("a11y_image_alt", "Image alt text", "1.1.1", domain.SeverityCritical, 15)
	a11yDecorativeAlt    = a11yRule("a11y_decorative_alt", "Decorative image alt", "1.1.1", domain.SeverityMinor, 5)
	a11yHeadingOrder     = a11yRule("a11y_heading_order", "Heading order", "1.3.1", domain.SeverityMajor, 10)
	a11yEmptyHeadings    = a11yRule("a11y_no_empty_headings", "No empty headings", "1.3.1", domain.SeverityMajor, 5)
	a11yFormLabels       = a11yRule("a11y_form_labels", "Form labels", "1.3.1", domain.SeverityCritical, 10)
	a11yLang             = a11yRule("a11y_lang_attribute", "Language attribute", "3.1.1", domain.SeverityCritical, 10)
	a11yLandmarks        = a11yRule("a11y_aria_landmarks", "ARIA landmarks", "1.3.1", domain.SeverityMajor, 8)
	a11yTableHeaders     = a11yRule("a11y_table_headers", "Table headers", "1.3.1", domain.SeverityMajor, 8)
	a11yDescriptiveLinks = a11yRule("a11y_descriptive_links", "Descriptive link text", "2.4.4", domain.SeverityMajor, 8)
	a11yLinkDistinguish  = a11yRule("a11y_link_distinguishability", "Link distinguishability", "1.4.1", domain.SeverityMinor, 5)
	a11yPageTitle        = a11yRule("a11y_page_title", "Page title", "2.4.2", domain.SeverityCritical, 8)
	a11ySkipNavigation   = a11yRule("a11y_skip_navigation", "Skip navigation", "2.4.1", domain.SeverityMinor, 5)
	a11yIframeTitle      = a11yRule("a11y_iframe_title", "Iframe titles", "2.4.1", domain.SeverityMajor, 5)
	a11yNoAutoplay       = a11yRule("a11y_no_autoplay", "No auto-playing media", "1.4.2", domain.SeverityCritical, 8)
)

// genericLinkTexts are link labels that say nothing about the destination.
var genericLinkTexts = map[string]bool{
	"click here": true,
	"read more":  true,
	"more":       true,
	"here":       true,
	"link":       true,
	"this":       true,
	"":           true,
}

// unlabelledInputTypes never need a visible label.
var unlabelledInputTypes = map[string]bool{
	"hidden": true,
	"submit": true,
	"button": true,
	"reset":  true,
	"image":  true,
}

// AccessibilitySuite returns the 14 accessibility checks in report order.
func AccessibilitySuite() Suite {
	return Suite{
		checkA11yImageAlt,
		checkDecorativeAlt,
		checkHeadingOrder,
		checkNoEmptyHeadings,
		checkFormLabels,
		checkLangAttribute,
		checkARIALandmarks,
		checkTableHeaders,
		checkDescriptiveLinks,
		checkLinkDistinguishability,
		checkPageTitle,
		checkSkipNavigation,
		checkIframeTitle,
		checkNoAutoplay,
	}
}

// Accessibility runs the accessibility suite over d.
func Accessibility(d *Document) []domain.CheckResult {
	return AccessibilitySuite().Run(d)
}

func checkA11yImageAlt(d *Document) domain.CheckResult {
	images := d.All(atom.Img)
	if len(images) == 0 {
		return a11yImageAlt.pass("No images found.")
	}
	missing := 0
	for _, img := range images {
		if !hasAttr(img, "alt") {
			missing++
		}
	}
	if missing == 0 {
		return a11yImageAlt.pass(fmt.Sprintf("All %d images have alt attributes.", len(images)))
	}
	return a11yImageAlt.fail(partial(a11yImageAlt.max, len(images), missing),
		fmt.Sprintf("%d of %d images are missing alt attributes.", missing, len(images)),
		`Add alt text to all images. Use alt="" for decorative images.`)
}

func checkDecorativeAlt(d *Document) domain.CheckResult {
	decorative := d.Filter(func(n *html.Node) bool {
		if n.DataAtom != atom.Img {
			return false
		}
		role, _ := attr(n, "role")
		role = strings.ToLower(strings.TrimSpace(role))
		return role == "presentation" || role == "none"
	})
	if len(decorative) == 0 {
		return a11yDecorativeAlt.pass("No explicitly decorative images found.")
	}
	bad := 0
	for _, img := range decorative {
		if alt, _ := attr(img, "alt"); alt != "" {
			bad++
		}
	}
	return a11yDecorativeAlt.outcome(bad == 0,
		"All decorative images have empty alt attributes.",
		fmt.Sprintf("%d decorative images have non-empty alt text.", bad),
		`Set alt="" on decorative images (role="presentation" or role="none").`)
}

func checkHeadingOrder(d *Document) domain.CheckResult {
	headings := d.headings()
	if len(headings) == 0 {
		return a11yHeadingOrder.fail(0,
			"No headings found on the page.",
			"Add headings with a logical hierarchical order.")
	}
	return a11yHeadingOrder.outcome(!levelSkipped(headings),
		"Headings follow a logical hierarchical order.",
		"Heading levels are skipped (e.g., H2 directly to H4).",
		"Ensure heading levels are sequential without skipping levels.")
}

func checkNoEmptyHeadings(d *Document) domain.CheckResult {
	empty := 0
	for _, h := range d.headings() {
		if strings.TrimSpace(textContent(h)) == "" {
			empty++
		}
	}
	return a11yEmptyHeadings.outcome(empty == 0,
		"All headings contain text.",
		fmt.Sprintf("%d headings are empty.", empty),
		"Remove empty headings or add meaningful text content.")
}

// labelled reports whether a form control has an accessible name.
func labelled(n *html.Node, labelFor map[string]bool) bool {
	if id, ok := attr(n, "id"); ok && id != "" && labelFor[id] {
		return true
	}
	return hasAttr(n, "aria-label") || hasAttr(n, "aria-labelledby") || hasAttr(n, "title")
}

func checkFormLabels(d *Document) domain.CheckResult {
	labelFor := map[string]bool{}
	for _, l := range d.All(atom.Label) {
		if f, ok := attr(l, "for"); ok {
			labelFor[f] = true
		}
	}
	controls := d.Filter(func(n *html.Node) bool {
		switch n.DataAtom {
		case atom.Textarea, atom.Select:
			return true
		case atom.Input:
			t, _ := attr(n, "type")
			return !unlabelledInputTypes[strings.ToLower(strings.TrimSpace(t))]
		}
		return false
	})
	if len(controls) == 0 {
		return a11yFormLabels.pass("No form inputs found.")
	}
	unlabelled := 0
	for _, c := range controls {
		if !labelled(c, labelFor) {
			unlabelled++
		}
	}
	if unlabelled == 0 {
		return a11yFormLabels.pass(fmt.Sprintf("All %d form inputs have associated labels.", len(controls)))
	}
	return a11yFormLabels.fail(partial(a11yFormLabels.max, len(controls), unlabelled),
		fmt.Sprintf("%d of %d form inputs are missing labels.", unlabelled, len(controls)),
		"Add <label> elements, aria-label, or aria-labelledby to all form inputs.")
}

func checkLangAttribute(d *Document) domain.CheckResult {
	lang := ""
	if h := d.First(atom.Html); h != nil {
		lang, _ = attr(h, "lang")
	}
	lang = strings.TrimSpace(lang)
	return a11yLang.outcome(lang != "",
		"Page has a lang attribute on the html element.",
		"Page is missing a lang attribute on the html element.",
		`Add a lang attribute to the <html> element (e.g., lang="en").`)
}

var landmarkRoles = map[string]bool{
	"main":          true,
	"navigation":    true,
	"banner":        true,
	"contentinfo":   true,
	"complementary": true,
}

func checkARIALandmarks(d *Document) domain.CheckResult {
	landmarks := d.Filter(func(n *html.Node) bool {
		switch n.DataAtom {
		case atom.Main, atom.Nav, atom.Header, atom.Footer, atom.Aside:
			return true
		}
		role, _ := attr(n, "role")
		return landmarkRoles[strings.ToLower(strings.TrimSpace(role))]
	})
	return a11yLandmarks.outcome(len(landmarks) > 0,
		fmt.Sprintf("Found %d landmark regions.", len(landmarks)),
		"No ARIA landmark regions found.",
		"Add semantic HTML5 elements (main, nav, header, footer) or ARIA landmark roles.")
}

func checkTableHeaders(d *Document) domain.CheckResult {
	tables := d.All(atom.Table)
	if len(tables) == 0 {
		return a11yTableHeaders.pass("No tables found.")
	}
	without := 0
	for _, t := range tables {
		if !hasDescendant(t, atom.Th) {
			without++
		}
	}
	if without == 0 {
		return a11yTableHeaders.pass(fmt.Sprintf("All %d tables have header cells.", len(tables)))
	}
	return a11yTableHeaders.fail(partial(a11yTableHeaders.max, len(tables), without),
		fmt.Sprintf("%d of %d tables are missing header cells.", without, len(tables)),
		"Add <th> elements with scope attributes to data tables.")
}

func checkDescriptiveLinks(d *Document) domain.CheckResult {
	anchors := links(d)
	if len(anchors) == 0 {
		return a11yDescriptiveLinks.pass("No links found.")
	}
	generic := 0
	for _, a := range anchors {
		text := strings.ToLower(strings.Join(strings.Fields(textContent(a)), " "))
		if genericLinkTexts[text] && !hasAttr(a, "aria-label") && !hasAttr(a, "aria-labelledby") {
			generic++
		}
	}
	if generic == 0 {
		return a11yDescriptiveLinks.pass("All links have descriptive text.")
	}
	return a11yDescriptiveLinks.fail(a11yDescriptiveLinks.max-2*generic,
		fmt.Sprintf("%d links have generic or empty text (e.g., 'click here', 'read more').", generic),
		"Use descriptive link text that indicates the destination or purpose.")
}

// checkLinkDistinguishability cannot inspect computed styles, so it always
// passes and reports how many inline links a human should verify.
func checkLinkDistinguishability(d *Document) domain.CheckResult {
	inline := d.Filter(func(n *html.Node) bool {
		if n.DataAtom != atom.A {
			return false
		}
		for p := n.Parent; p != nil; p = p.Parent {
			switch p.DataAtom {
			case atom.P, atom.Li, atom.Td:
				return true
			}
		}
		return false
	})
	return a11yLinkDistinguish.result(domain.SeverityPass, a11yLinkDistinguish.max,
		fmt.Sprintf("Link distinguishability requires visual inspection (CSS-dependent). Found %d inline links.", len(inline)),
		"Ensure links are visually distinguishable from surrounding text by means other than color alone.")
}

func checkPageTitle(d *Document) domain.CheckResult {
	return a11yPageTitle.outcome(d.MetaTitle() != "",
		"Page has a descriptive title.",
		"Page is missing a title element.",
		"Add a descriptive <title> element to the page.")
}

func checkSkipNavigation(d *Document) domain.CheckResult {
	skip := d.Filter(func(n *html.Node) bool {
		if n.DataAtom != atom.A {
			return false
		}
		href, _ := attr(n, "href")
		class, _ := attr(n, "class")
		return strings.Contains(href, "#main") || strings.Contains(href, "#content") ||
			strings.Contains(strings.ToLower(class), "skip")
	})
	return a11ySkipNavigation.outcome(len(skip) > 0,
		"Page has a skip navigation link.",
		"No skip navigation link found.",
		`Add a "skip to main content" link at the beginning of the page.`)
}

func checkIframeTitle(d *Document) domain.CheckResult {
	frames := d.All(atom.Iframe)
	if len(frames) == 0 {
		return a11yIframeTitle.pass("No iframes found.")
	}
	missing := 0
	for _, f := range frames {
		if t, _ := attr(f, "title"); strings.TrimSpace(t) == "" {
			missing++
		}
	}
	if missing == 0 {
		return a11yIframeTitle.pass(fmt.Sprintf("All %d iframes have title attributes.", len(frames)))
	}
	return a11yIframeTitle.fail(partial(a11yIframeTitle.max, len(frames), missing),
		fmt.Sprintf("%d of %d iframes are missing title attributes.", missing, len(frames)),
		"Add descriptive title attributes to all iframes.")
}

func checkNoAutoplay(d *Document) domain.CheckResult {
	autoplay := d.Filter(func(n *html.Node) bool {
		return (n.DataAtom == atom.Video || n.DataAtom == atom.Audio) && hasAttr(n, "autoplay")
	})
	return a11yNoAutoplay.outcome(len(autoplay) == 0,
		"No auto-playing audio or video elements found.",
		fmt.Sprintf("%d media elements have autoplay enabled.", len(autoplay)),
		"Remove autoplay from media elements or provide a mechanism to pause/stop.")
}
