package gmaps

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// AttributionText reduces provider HTML attributions such as
// `<a href="https://maps.google.com/maps/contrib/1">Jane Doe</a>` to plain
// text. Multiple attributions are joined with ", ".
func AttributionText(attrs []string) string {
	var parts []string
	for _, a := range attrs {
		if t := htmlText(a); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, ", ")
}

func htmlText(fragment string) string {
	nodes, err := html.ParseFragment(strings.NewReader(fragment), &html.Node{
		Type:     html.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	})
	if err != nil {
		return strings.TrimSpace(fragment)
	}
	var b strings.Builder
	for _, n := range nodes {
		collectText(n, &b)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func collectText(n *html.Node, b *strings.Builder) {
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		b.WriteByte(' ')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}
