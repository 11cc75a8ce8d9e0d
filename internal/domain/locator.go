package domain

import (
	"fmt"
	"strings"
)

// Strategy tells the driver how to interpret a locator value.
type Strategy string

const (
	ByCSS   Strategy = "css"
	ByXPath Strategy = "xpath"
)

// Role names a UI element by what it does rather than how it is found.
type Role string

const (
	RoleLoginLink         Role = "loginLink"
	RoleEmailInput        Role = "emailInput"
	RolePasswordInput     Role = "passwordInput"
	RoleMessageInput      Role = "messageInput"
	RoleOutboundBubble    Role = "outboundBubble"
	RoleReplyRow          Role = "replyRow"
	RoleCompanionMarker   Role = "companionMarker"
	RoleReplyText         Role = "replyText"
	RoleImageAttachment   Role = "imageAttachment"
	RoleSendAnotherButton Role = "sendAnotherButton"
	RoleStopButton        Role = "stopButton"
)

// Roles lists every role a complete locator table must define.
var Roles = []Role{
	RoleLoginLink, RoleEmailInput, RolePasswordInput, RoleMessageInput,
	RoleOutboundBubble, RoleReplyRow, RoleCompanionMarker, RoleReplyText,
	RoleImageAttachment, RoleSendAnotherButton, RoleStopButton,
}

// RowScopedRoles are looked up inside a reply row rather than the whole
// page. Scoped lookups only support CSS.
var RowScopedRoles = []Role{RoleCompanionMarker, RoleReplyText}

func rowScoped(r Role) bool {
	for _, s := range RowScopedRoles {
		if s == r {
			return true
		}
	}
	return false
}

// TextPlaceholder is substituted with a quoted literal by Locator.WithText.
const TextPlaceholder = "{text}"

// Locator finds elements on the page.
type Locator struct {
	By    Strategy `json:"by" yaml:"by"`
	Value string   `json:"value" yaml:"value"`
}

func CSS(v string) Locator   { return Locator{By: ByCSS, Value: v} }
func XPath(v string) Locator { return Locator{By: ByXPath, Value: v} }

func (l Locator) String() string { return string(l.By) + "=" + l.Value }

// WithText returns a copy with every TextPlaceholder replaced by text,
// quoted for the locator's strategy.
func (l Locator) WithText(text string) Locator {
	var quoted string
	if l.By == ByXPath {
		quoted = XPathLiteral(text)
	} else {
		quoted = `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(text) + `"`
	}
	l.Value = strings.ReplaceAll(l.Value, TextPlaceholder, quoted)
	return l
}

// XPathLiteral quotes s as an XPath 1.0 string literal. XPath has no
// escape sequences, so strings holding both quote kinds become concat().
func XPathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	args := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			args = append(args, `'"'`)
		}
		if p != "" {
			args = append(args, `"`+p+`"`)
		}
	}
	return "concat(" + strings.Join(args, ", ") + ")"
}

// Locators is the site-specific lookup table, keyed by role.
type Locators map[Role]Locator

// Get returns the locator for role, failing if it is missing.
func (ls Locators) Get(role Role) (Locator, error) {
	l, ok := ls[role]
	if !ok || l.Value == "" {
		return Locator{}, fmt.Errorf("no locator for role %q", role)
	}
	return l, nil
}

// Validate reports roles that are missing, carry an unknown strategy, or
// use XPath where a scoped CSS lookup is required.
func (ls Locators) Validate() error {
	var errs []string
	for _, r := range Roles {
		l, ok := ls[r]
		if !ok || l.Value == "" {
			errs = append(errs, fmt.Sprintf("%s: missing", r))
			continue
		}
		switch {
		case l.By != ByCSS && l.By != ByXPath:
			errs = append(errs, fmt.Sprintf("%s: unknown strategy %q", r, l.By))
		case l.By != ByCSS && rowScoped(r):
			errs = append(errs, fmt.Sprintf("%s: must be a css locator (looked up inside each reply row)", r))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("locator table: %s", strings.Join(errs, "; "))
	}
	return nil
}
