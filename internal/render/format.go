package render

import (
	"strings"
	"unicode"

	"github.com/mattn/go-runewidth"
	"golang.org/x/net/html"
)

// PlainText flattens an HTML body into text suitable for an SMS or a terminal preview.
// Links are kept inline as "label (href)".
func PlainText(htmlStr string) (string, error) {
	doc, err := html.Parse(strings.NewReader(htmlStr))
	if err != nil {
		return "", err
	}
	var b strings.Builder

	var visit func(n *html.Node)
	visit = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			text := sanitizeGlyphs(n.Data)
			if strings.TrimSpace(text) != "" {
				b.WriteString(text)
			}
		case html.CommentNode:
			return
		case html.ElementNode:
			switch strings.ToLower(n.Data) {
			case "head", "style", "script", "title", "meta", "link", "img":
				return
			case "div", "section":
				for c := n.FirstChild; c != nil; c = c.NextSibling {
					visit(c)
				}
				b.WriteByte('\n')
				return
			case "br":
				b.WriteByte('\n')
				return
			case "p", "h1", "h2", "h3", "h4", "h5", "h6":
				for c := n.FirstChild; c != nil; c = c.NextSibling {
					visit(c)
				}
				b.WriteString("\n\n")
				return
			case "hr":
				b.WriteString("\n-----\n")
				return
			case "ul", "ol":
				for c := n.FirstChild; c != nil; c = c.NextSibling {
					if c.Type == html.ElementNode && strings.EqualFold(c.Data, "li") {
						b.WriteString("- ")
						for li := c.FirstChild; li != nil; li = li.NextSibling {
							visit(li)
						}
						b.WriteByte('\n')
					}
				}
				return
			case "a":
				href := attr(n, "href")
				var inner strings.Builder
				for c := n.FirstChild; c != nil; c = c.NextSibling {
					collectText(&inner, c)
				}
				label := strings.TrimSpace(inner.String())
				switch {
				case label == "":
					b.WriteString(href)
				case href == "" || href == label || strings.HasPrefix(strings.ToLower(href), "mailto:"):
					b.WriteString(label)
				default:
					b.WriteString(label + " (" + href + ")")
				}
				return
			case "table":
				var walkRows func(n *html.Node)
				walkRows = func(n *html.Node) {
					if n.Type == html.ElementNode && strings.EqualFold(n.Data, "tr") {
						row := make([]string, 0, 4)
						for td := n.FirstChild; td != nil; td = td.NextSibling {
							if td.Type == html.ElementNode && (strings.EqualFold(td.Data, "td") || strings.EqualFold(td.Data, "th")) {
								var cell strings.Builder
								for c := td.FirstChild; c != nil; c = c.NextSibling {
									collectText(&cell, c)
								}
								if t := strings.TrimSpace(cell.String()); t != "" {
									row = append(row, t)
								}
							}
						}
						if len(row) > 0 {
							b.WriteString(strings.Join(row, " | ") + "\n")
						}
					}
					for c := n.FirstChild; c != nil; c = c.NextSibling {
						walkRows(c)
					}
				}
				walkRows(n)
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(doc)

	return strings.TrimSpace(normalizeNewlines(trimLines(b.String()))), nil
}

// FitWidth truncates by display width with an ellipsis and pads on the right
func FitWidth(s string, width int) string {
	if width <= 0 {
		return ""
	}
	s = runewidth.Truncate(s, width, "...")
	if pad := width - runewidth.StringWidth(s); pad > 0 {
		s += strings.Repeat(" ", pad)
	}
	return s
}

// Truncate shortens s to width display cells, ending in "..." when cut
func Truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	return runewidth.Truncate(s, width, "...")
}

// gsm7 holds the GSM 03.38 basic character set; anything else forces UCS-2 encoding
const gsm7 = "@£$¥èéùìòÇ\nØø\rÅåΔ_ΦΓΛΩΠΨΣΘΞÆæßÉ !\"#¤%&'()*+,-./0123456789:;<=>?" +
	"¡ABCDEFGHIJKLMNOPQRSTUVWXYZÄÖÑÜ§¿abcdefghijklmnopqrstuvwxyzäöñüà"

// gsm7Ext characters take two septets
const gsm7Ext = "^{}\\[~]|€\f"

// SMSSegments returns how many SMS parts body needs and the per-part capacity used
func SMSSegments(body string) (segments, perSegment int) {
	if body == "" {
		return 0, 160
	}
	units, unicodeBody := 0, false
	for _, r := range body {
		switch {
		case strings.ContainsRune(gsm7, r):
			units++
		case strings.ContainsRune(gsm7Ext, r):
			units += 2
		default:
			unicodeBody = true
		}
	}
	single, multi := 160, 153
	if unicodeBody {
		units = 0
		for _, r := range body {
			if r > 0xFFFF {
				units += 2
			} else {
				units++
			}
		}
		single, multi = 70, 67
	}
	if units <= single {
		return 1, single
	}
	return (units + multi - 1) / multi, multi
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func collectText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(sanitizeGlyphs(n.Data))
	case html.ElementNode:
		if strings.EqualFold(n.Data, "br") {
			b.WriteByte('\n')
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(b, c)
	}
}

// sanitizeGlyphs replaces rich-text glyphs with plain equivalents and drops invisible runes
func sanitizeGlyphs(s string) string {
	if s == "" {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\u00A0', '\u202F': // no-break spaces
			b.WriteRune(' ')
		case '\u200B', '\u200C', '\u200D', '\uFEFF', '\u034F', '\u2060', '\u00AD':
			// zero-width, BOM, joiners, soft hyphen
		case '\u2000', '\u2001', '\u2002', '\u2003', '\u2004', '\u2005', '\u2006', '\u2007', '\u2008', '\u2009', '\u200A':
			b.WriteRune(' ')
		case '\u2013', '\u2014':
			b.WriteRune('-')
		case '\u2022', '\u25CF', '\u25E6':
			b.WriteString("- ")
		case '\u2018', '\u2019':
			b.WriteRune('\'')
		case '\u201C', '\u201D':
			b.WriteRune('"')
		case '\u2026':
			b.WriteString("...")
		default:
			if unicode.IsControl(r) && r != '\n' && r != '\t' {
				continue
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

func trimLines(s string) string {
	lines := strings.Split(s, "\n")
	for i, ln := range lines {
		lines[i] = strings.TrimRightFunc(ln, unicode.IsSpace)
	}
	return strings.Join(lines, "\n")
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return s
}
