// internal/browser/locators.go
package browser

import (
	"fmt"
	"strings"
)

// Locator describes how to find elements on the page. Element handles are
// never kept across operations: every action re-runs the XPath, because the
// form re-renders after most interactions.
type Locator struct {
	XPath string
	// Desc is a human readable name used in logs and errors.
	Desc string
}

func (l Locator) String() string {
	if l.Desc != "" {
		return l.Desc
	}
	return l.XPath
}

// Upper and lower case alphabets for XPath 1.0 translate(), which has no
// lower-case() function. Includes the accented letters used by Portuguese.
const (
	upperAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZÁÀÂÃÉÊÍÓÔÕÚÜÇ"
	lowerAlphabet = "abcdefghijklmnopqrstuvwxyzáàâãéêíóôõúüç"
)

// LabeledInput finds the inputs that follow a <label> whose normalized text
// starts with label, inside the label's sibling container:
//
//	<label>Pergunta</label><div><input/></div>
//
// Prefix matching keeps "Pergunta" from also matching "Peso da Pergunta"
// while tolerating suffixes such as a required-field asterisk.
func LabeledInput(label string) Locator {
	return Locator{
		XPath: fmt.Sprintf("//label[starts-with(normalize-space(.), %s)]/following-sibling::div//input", xpathLiteral(strings.TrimSpace(label))),
		Desc:  fmt.Sprintf("input labeled %q", label),
	}
}

// ButtonExact finds buttons whose normalized text equals text.
func ButtonExact(text string) Locator {
	return Locator{
		XPath: fmt.Sprintf("//button[normalize-space(.)=%s]", xpathLiteral(strings.TrimSpace(text))),
		Desc:  fmt.Sprintf("button %q", text),
	}
}

// ButtonContaining finds buttons whose text contains text, case-sensitively.
func ButtonContaining(text string) Locator {
	return Locator{
		XPath: fmt.Sprintf("//button[contains(normalize-space(.), %s)]", xpathLiteral(strings.TrimSpace(text))),
		Desc:  fmt.Sprintf("button containing %q", text),
	}
}

// ButtonContainsFold finds buttons whose text contains text, ignoring case.
func ButtonContainsFold(text string) Locator {
	return Locator{
		XPath: fmt.Sprintf("//button[contains(translate(normalize-space(.), %s, %s), %s)]",
			xpathLiteral(upperAlphabet), xpathLiteral(lowerAlphabet), xpathLiteral(strings.ToLower(strings.TrimSpace(text)))),
		Desc: fmt.Sprintf("button containing %q (any case)", text),
	}
}

// xpathLiteral quotes s as an XPath 1.0 string literal. XPath has no escape
// sequences, so strings holding both quote kinds are built with concat().
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	quoted := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		if p != "" {
			quoted = append(quoted, "'"+p+"'")
		}
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}
