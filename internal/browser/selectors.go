package browser

import (
	"fmt"
	"os"
	"strings"

	"replicli/internal/domain"

	"gopkg.in/yaml.v3"
)

// ReplikaLocators returns the default locator table for my.replika.com.
// The site's class names are generated (styled-components), so most
// locators match on stable prefixes rather than full names.
func ReplikaLocators() domain.Locators {
	return domain.Locators{
		domain.RoleLoginLink:         domain.XPath(`//a[contains(text(), "Log in")]`),
		domain.RoleEmailInput:        domain.CSS(`#login-email`),
		domain.RolePasswordInput:     domain.CSS(`#login-password`),
		domain.RoleMessageInput:      domain.CSS(`textarea[class*="TextArea-sc-"]`),
		domain.RoleOutboundBubble:    domain.XPath(`//div[contains(@class, "MessageGroup__StyledMessage") and contains(., ` + domain.TextPlaceholder + `)]`),
		domain.RoleReplyRow:          domain.CSS(`div[role="row"][class*="MessageHover__MessageHoverRoot-sc-"]`),
		domain.RoleCompanionMarker:   domain.CSS(`span[aria-colindex="2"]`),
		domain.RoleReplyText:         domain.CSS(`span[aria-live="polite"] span`),
		domain.RoleImageAttachment:   domain.CSS(`img[data-testid="chat-message-image"]`),
		domain.RoleSendAnotherButton: domain.XPath(`//button[text()="Send another one"]`),
		domain.RoleStopButton:        domain.XPath(`//button[text()="Stop"]`),
	}
}

// ParseLocator parses "css=<selector>" or "xpath=<expr>". A bare value is
// XPath when it starts with "/" or "(", CSS otherwise.
func ParseLocator(s string) (domain.Locator, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return domain.Locator{}, fmt.Errorf("empty locator")
	}
	if by, value, ok := strings.Cut(s, "="); ok {
		switch domain.Strategy(strings.ToLower(strings.TrimSpace(by))) {
		case domain.ByCSS:
			return domain.CSS(strings.TrimSpace(value)), nil
		case domain.ByXPath:
			return domain.XPath(strings.TrimSpace(value)), nil
		}
	}
	if strings.HasPrefix(s, "/") || strings.HasPrefix(s, "(") {
		return domain.XPath(s), nil
	}
	return domain.CSS(s), nil
}

// locatorSpec accepts either a scalar ("css=...") or a mapping
// ({by: xpath, value: ...}) in a selectors file.
type locatorSpec struct {
	domain.Locator
}

func (l *locatorSpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		loc, err := ParseLocator(node.Value)
		if err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		l.Locator = loc
		return nil
	case yaml.MappingNode:
		var raw struct {
			By    string `yaml:"by"`
			Value string `yaml:"value"`
		}
		if err := node.Decode(&raw); err != nil {
			return err
		}
		by := domain.Strategy(strings.ToLower(raw.By))
		if by == "" {
			by = domain.ByCSS
		}
		l.Locator = domain.Locator{By: by, Value: raw.Value}
		return nil
	}
	return fmt.Errorf("line %d: locator must be a string or a mapping", node.Line)
}

func knownRole(name string) (domain.Role, bool) {
	for _, r := range domain.Roles {
		if string(r) == name {
			return r, true
		}
	}
	return "", false
}

// LoadSelectorsFile reads role overrides from a YAML file into base.
func LoadSelectorsFile(path string, base domain.Locators) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read selectors file %s: %w", path, err)
	}

	var specs map[string]locatorSpec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return fmt.Errorf("parse selectors file %s: %w", path, err)
	}
	for name, spec := range specs {
		role, ok := knownRole(name)
		if !ok {
			return fmt.Errorf("selectors file %s: unknown role %q", path, name)
		}
		base[role] = spec.Locator
	}
	return nil
}

// ResolveLocators builds the locator table: defaults, then the YAML file,
// then inline overrides from the config.
func ResolveLocators(file string, overrides map[string]string) (domain.Locators, error) {
	locs := ReplikaLocators()
	if file != "" {
		if err := LoadSelectorsFile(file, locs); err != nil {
			return nil, err
		}
	}
	for name, raw := range overrides {
		role, ok := knownRole(name)
		if !ok {
			return nil, fmt.Errorf("site.selectors: unknown role %q", name)
		}
		loc, err := ParseLocator(raw)
		if err != nil {
			return nil, fmt.Errorf("site.selectors.%s: %w", name, err)
		}
		locs[role] = loc
	}
	if err := locs.Validate(); err != nil {
		return nil, err
	}
	return locs, nil
}
