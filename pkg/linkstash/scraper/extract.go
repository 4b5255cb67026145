package scraper

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Heuristics per field, highest priority first.
// Meta keys match the property, name or itemprop attribute, lowercased.
var (
	titleKeys       = []string{"og:title", "twitter:title"}
	descriptionKeys = []string{"og:description", "twitter:description", "description"}
	imageKeys       = []string{"og:image:secure_url", "og:image", "og:image:url", "twitter:image", "twitter:image:src"}
	siteNameKeys    = []string{"og:site_name", "application-name", "apple-mobile-web-app-title"}
	iconRels        = []string{"apple-touch-icon", "apple-touch-icon-precomposed", "icon", "shortcut icon"}
)

type linkTag struct {
	rel  string
	href string
}

// page holds the raw signals found in a document
type page struct {
	meta  map[string]string
	title string
	links []linkTag
	base  string
}

func collect(doc *html.Node) *page {
	p := &page{meta: make(map[string]string)}

	var f func(*html.Node)
	f = func(n *html.Node) {
		// Skip <title> and friends inside inline SVG/MathML
		if n.Type == html.ElementNode && n.Namespace == "" {
			switch n.DataAtom {
			case atom.Meta:
				p.addMeta(n)
			case atom.Title:
				if p.title == "" {
					p.title = textContent(n)
				}
			case atom.Link:
				rel := strings.ToLower(strings.Join(strings.Fields(attr(n, "rel")), " "))
				if href := strings.TrimSpace(attr(n, "href")); rel != "" && href != "" {
					p.links = append(p.links, linkTag{rel: rel, href: href})
				}
			case atom.Base:
				if p.base == "" {
					p.base = strings.TrimSpace(attr(n, "href"))
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(doc)
	return p
}

func (p *page) addMeta(n *html.Node) {
	content := clean(attr(n, "content"))
	if content == "" {
		return
	}
	for _, key := range []string{"property", "name", "itemprop"} {
		k := strings.ToLower(strings.TrimSpace(attr(n, key)))
		if k == "" {
			continue
		}
		if _, ok := p.meta[k]; !ok {
			p.meta[k] = content
		}
	}
}

func (p *page) firstMeta(keys ...string) string {
	for _, k := range keys {
		if v := p.meta[k]; v != "" {
			return v
		}
	}
	return ""
}

// firstURL returns the first candidate that resolves to an http(s) URL
func firstURL(base *url.URL, candidates ...string) string {
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if resolved := resolveURL(base, c); resolved != "" {
			return resolved
		}
	}
	return ""
}

func (p *page) linkHref(rel string) string {
	for _, l := range p.links {
		if l.rel == rel {
			return l.href
		}
	}
	return ""
}

func extract(doc *html.Node, pageURL *url.URL) Metadata {
	p := collect(doc)

	base := pageURL
	if p.base != "" {
		if resolved, err := pageURL.Parse(p.base); err == nil {
			base = resolved
		}
	}

	meta := Metadata{
		Title:       p.firstMeta(titleKeys...),
		Description: p.firstMeta(descriptionKeys...),
		SiteName:    p.firstMeta(siteNameKeys...),
	}
	if meta.Title == "" {
		meta.Title = p.title
	}
	if meta.SiteName == "" {
		meta.SiteName = strings.TrimPrefix(p.meta["twitter:site"], "@")
	}

	images := make([]string, 0, len(imageKeys)+1)
	for _, k := range imageKeys {
		images = append(images, p.meta[k])
	}
	images = append(images, p.linkHref("image_src"))
	meta.Image = firstURL(base, images...)

	icons := make([]string, 0, len(iconRels)+1)
	for _, rel := range iconRels {
		icons = append(icons, p.linkHref(rel))
	}
	icons = append(icons, p.meta["og:logo"], p.meta["logo"])
	meta.Favicon = firstURL(base, icons...)

	return meta
}

func resolveURL(base *url.URL, href string) string {
	parsed, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(parsed)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	return resolved.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return clean(sb.String())
}

// clean collapses runs of whitespace and trims the ends
func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
