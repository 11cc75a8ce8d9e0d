package domain

import "testing"

func TestXPathLiteral(t *testing.T) {
	cases := map[string]string{
		`hello`:       `"hello"`,
		`say "hi"`:    `'say "hi"'`,
		`it's "fine"`: `concat("it's ", '"', "fine", '"')`,
		`don't`:       `"don't"`,
	}
	for in, want := range cases {
		if got := XPathLiteral(in); got != want {
			t.Errorf("XPathLiteral(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestLocator_WithText(t *testing.T) {
	loc := XPath(`//div[contains(., {text})]`).WithText(`it's`)
	if loc.Value != `//div[contains(., "it's")]` {
		t.Fatalf("unexpected xpath: %s", loc.Value)
	}

	css := CSS(`img[alt={text}]`).WithText(`a "b"`)
	if css.Value != `img[alt="a \"b\""]` {
		t.Fatalf("unexpected css: %s", css.Value)
	}
}

func TestLocators_GetMissing(t *testing.T) {
	if _, err := (Locators{}).Get(RoleReplyRow); err == nil {
		t.Fatal("expected error for missing role")
	}
}

func TestOutcome_Reason(t *testing.T) {
	if got := (Outcome{Kind: OutcomeError, Err: ErrNoReply}).Reason(); got != "no_reply" {
		t.Fatalf("expected no_reply, got %s", got)
	}
	if got := (Outcome{Kind: OutcomeTerminate}).Reason(); got != "terminate" {
		t.Fatalf("expected terminate, got %s", got)
	}
}

func TestLocators_ValidateRowScopedCSS(t *testing.T) {
	locs := Locators{}
	for _, r := range Roles {
		locs[r] = CSS("x")
	}
	if err := locs.Validate(); err != nil {
		t.Fatalf("all-css table should validate: %v", err)
	}

	locs[RoleReplyRow] = XPath("//div")
	if err := locs.Validate(); err != nil {
		t.Fatalf("page-level xpath should validate: %v", err)
	}

	locs[RoleReplyText] = XPath(".//span")
	if err := locs.Validate(); err == nil {
		t.Fatal("expected error for xpath replyText")
	}
}
