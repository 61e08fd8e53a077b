package render

import (
	"strings"
	"testing"
)

func TestPlainText_ParagraphsAndLinks(t *testing.T) {
	in := `<html><head><style>p{}</style></head><body><p>Hello <b>Ana</b>,</p><p>See <a href="https://x.com/c/1">your case</a>.</p></body></html>`
	out, err := PlainText(in)
	if err != nil {
		t.Fatalf("PlainText error: %v", err)
	}
	if strings.Contains(out, "p{}") {
		t.Fatalf("style content leaked: %q", out)
	}
	if !strings.HasPrefix(out, "Hello Ana,") {
		t.Fatalf("expected greeting first, got: %q", out)
	}
	if !strings.Contains(out, "your case (https://x.com/c/1)") {
		t.Fatalf("expected inline link, got: %q", out)
	}
	if strings.Contains(out, "\n\n\n") {
		t.Fatalf("blank lines should be collapsed, got: %q", out)
	}
}

func TestPlainText_ListsTablesAndGlyphs(t *testing.T) {
	in := "<ul><li>one</li><li>two</li></ul><table><tr><td>a</td><td>b</td></tr></table><p>wait\u2026 \u201cok\u201d</p>"
	out, err := PlainText(in)
	if err != nil {
		t.Fatalf("PlainText error: %v", err)
	}
	for _, want := range []string{"- one\n- two", "a | b", `wait... "ok"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in %q", want, out)
		}
	}
}

func TestPlainText_MailtoKeepsLabel(t *testing.T) {
	out, err := PlainText(`<a href="mailto:a@x.com">a@x.com</a>`)
	if err != nil {
		t.Fatalf("PlainText error: %v", err)
	}
	if out != "a@x.com" {
		t.Fatalf("got %q", out)
	}
}

func TestFitWidthAndTruncate(t *testing.T) {
	if got := FitWidth("abc", 6); got != "abc   " {
		t.Fatalf("FitWidth pad: %q", got)
	}
	if got := Truncate("abcdefghij", 6); got != "abc..." {
		t.Fatalf("Truncate: %q", got)
	}
	if got := Truncate("日本語テキスト", 7); got != "日本..." {
		t.Fatalf("Truncate wide: %q", got)
	}
	if FitWidth("x", 0) != "" || Truncate("x", -1) != "" {
		t.Fatalf("non-positive widths should yield empty strings")
	}
}

func TestSMSSegments(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		segments int
		per      int
	}{
		{"empty", "", 0, 160},
		{"short gsm", "Hello", 1, 160},
		{"exact gsm", strings.Repeat("a", 160), 1, 160},
		{"two gsm parts", strings.Repeat("a", 161), 2, 153},
		{"extension chars count double", strings.Repeat("€", 81), 2, 153},
		{"unicode", "Привет", 1, 70},
		{"long unicode", strings.Repeat("ж", 71), 2, 67},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			segs, per := SMSSegments(tc.body)
			if segs != tc.segments || per != tc.per {
				t.Fatalf("SMSSegments(%q) = %d,%d want %d,%d", tc.name, segs, per, tc.segments, tc.per)
			}
		})
	}
}
