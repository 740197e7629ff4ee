package tgui

import (
	"errors"
	"strings"
	"testing"
)

func TestHTMLHelpers(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		Esc("a<b>&"):  "a&lt;b&gt;&amp;",
		B("x<y"):      "<b>x&lt;y</b>",
		Code("1 & 2"): "<code>1 &amp; 2</code>",
		Pre("<tag>"):  "<pre>&lt;tag&gt;</pre>",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	}
}

func TestData(t *testing.T) {
	t.Parallel()
	if got := Data("alert", "diag", ""); got != "alert:diag" {
		t.Fatalf("Data = %q", got)
	}
	if got := Data(" alert ", "details", "7"); got != "alert:details:7" {
		t.Fatalf("Data = %q", got)
	}
	if err := CheckData(Data("alert", "x", strings.Repeat("p", 64))); !errors.Is(err, ErrCallbackDataTooLong) {
		t.Fatalf("CheckData = %v", err)
	}
}
