package driver

import (
	"fmt"
	"strings"
)

// Kind tags how a Descriptor locates elements.
type Kind string

const (
	KindRole        Kind = "role"
	KindTestID      Kind = "test_id"
	KindPlaceholder Kind = "placeholder"
	KindCSS         Kind = "css"
	KindText        Kind = "text"
)

// TextMatch is a case-insensitive text pattern, either whole-string or substring.
type TextMatch struct {
	Text  string
	Exact bool
}

// Exactly matches text equal to s, ignoring case and surrounding whitespace.
func Exactly(s string) TextMatch { return TextMatch{Text: s, Exact: true} }

// Containing matches text that contains s, ignoring case.
func Containing(s string) TextMatch { return TextMatch{Text: s} }

// IsZero reports whether the pattern matches anything.
func (m TextMatch) IsZero() bool { return m.Text == "" }

// Match reports whether s satisfies the pattern. The zero pattern matches everything.
func (m TextMatch) Match(s string) bool {
	if m.IsZero() {
		return true
	}
	s = strings.ToLower(NormalizeSpace(s))
	want := strings.ToLower(strings.TrimSpace(m.Text))
	if m.Exact {
		return s == want
	}
	return strings.Contains(s, want)
}

func (m TextMatch) String() string {
	if m.Exact {
		return fmt.Sprintf("%q", m.Text)
	}
	return fmt.Sprintf("~%q", m.Text)
}

// Descriptor is one tagged way of locating elements. Only the fields relevant to
// Kind are read.
type Descriptor struct {
	Kind Kind
	// Role is the ARIA role for KindRole.
	Role string
	// Name is the accessible name for KindRole, the placeholder for
	// KindPlaceholder and the text for KindText.
	Name TextMatch
	// Attr is the test id attribute for KindTestID (data-testid, data-test).
	Attr string
	// Value is the test id for KindTestID or the selector for KindCSS.
	Value string
}

// Role locates elements by ARIA role, optionally filtered by accessible name.
func Role(role string, name TextMatch) Descriptor {
	return Descriptor{Kind: KindRole, Role: role, Name: name}
}

// TestID locates elements by a test attribute value.
func TestID(attr, value string) Descriptor {
	return Descriptor{Kind: KindTestID, Attr: attr, Value: value}
}

// Placeholder locates inputs by placeholder text.
func Placeholder(m TextMatch) Descriptor {
	return Descriptor{Kind: KindPlaceholder, Name: m}
}

// CSS locates elements by selector.
func CSS(selector string) Descriptor {
	return Descriptor{Kind: KindCSS, Value: selector}
}

// Text locates the innermost elements whose text matches.
func Text(m TextMatch) Descriptor {
	return Descriptor{Kind: KindText, Name: m}
}

// Selector returns the CSS form of a test id or CSS descriptor, and false for kinds
// that need text or role evaluation.
func (d Descriptor) Selector() (string, bool) {
	switch d.Kind {
	case KindCSS:
		return d.Value, true
	case KindTestID:
		attr := d.Attr
		if attr == "" {
			attr = "data-testid"
		}
		return fmt.Sprintf("[%s=%q]", attr, d.Value), true
	}
	return "", false
}

func (d Descriptor) String() string {
	switch d.Kind {
	case KindRole:
		if d.Name.IsZero() {
			return "role=" + d.Role
		}
		return fmt.Sprintf("role=%s name=%s", d.Role, d.Name)
	case KindTestID, KindCSS:
		sel, _ := d.Selector()
		return string(d.Kind) + "=" + sel
	case KindPlaceholder, KindText:
		return fmt.Sprintf("%s=%s", d.Kind, d.Name)
	}
	return "unknown"
}

// RoleSelectors maps the ARIA roles the robot uses to the CSS that carries them,
// explicitly or implicitly. Engines without native role queries start from these.
var RoleSelectors = map[string]string{
	"button":    `button, [role="button"], input[type="button"], input[type="submit"], input[type="reset"]`,
	"searchbox": `input[type="search"], [role="searchbox"]`,
	"textbox":   `input:not([type]), input[type="text"], input[type="email"], input[type="tel"], input[type="url"], input[type="password"], textarea, [role="textbox"]`,
	"link":      `a[href], [role="link"]`,
}

// NormalizeSpace trims s and collapses internal whitespace runs to one space.
func NormalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
