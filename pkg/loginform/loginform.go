// Package loginform locates the credential-submission form and CSRF token in
// a portal login page. The portal is a Devise-style Rails app, so detection
// leans on field-name heuristics rather than a generic form framework.
package loginform

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrFormNotFound is returned when the page has no POST form at all, leaving
// nothing login-capable to submit to.
var ErrFormNotFound = errors.New("could not locate login form")

// DefaultAction is assumed when the selected form has no action attribute.
const DefaultAction = "/users/sign_in"

// Matching policy for credential fields, in precedence order. Substring
// matches are case-insensitive; the first field name that matches wins.
var (
	emailMatches    = []string{"email", "login"}
	passwordMatches = []string{"password"}
	rememberMatches = []string{"remember"}
)

const (
	fallbackEmailField    = "user[email]"
	fallbackPasswordField = "user[password]"
)

// Field is one named input with its default value, in document order.
type Field struct {
	Name  string
	Value string
}

// Form is a POST-capable form found on the page. Action is as written in the
// document (resolve it against the portal base URL before submitting).
type Form struct {
	Action string
	Method string
	Fields []Field
}

func fieldMatches(name string, substrings []string) bool {
	lower := strings.ToLower(name)
	for _, sub := range substrings {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

func (f Form) hasField(substrings []string) bool {
	for _, field := range f.Fields {
		if fieldMatches(field.Name, substrings) {
			return true
		}
	}
	return false
}

// Parse scans the document for the login form and the page-level CSRF token.
// The token (from the last meta[name=csrf-token] tag) is returned even when
// no form is found. Form selection prefers the first POST form with an
// email/login-like field, then falls back to the first POST form of any
// shape; a page with only GET forms is ErrFormNotFound.
func Parse(htmlBody string) (Form, string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlBody))
	if err != nil {
		return Form{}, "", fmt.Errorf("failed to parse login page: %w", err)
	}

	token := csrfToken(doc)

	var forms []Form
	doc.Find("form").Each(func(_ int, sel *goquery.Selection) {
		form := Form{
			Action: sel.AttrOr("action", ""),
			Method: strings.ToLower(sel.AttrOr("method", "get")),
		}
		sel.Find("input").Each(func(_ int, input *goquery.Selection) {
			name := input.AttrOr("name", "")
			if name == "" {
				return
			}
			inputType := strings.ToLower(input.AttrOr("type", ""))
			if inputType == "submit" || inputType == "button" {
				return
			}
			form.Fields = append(form.Fields, Field{Name: name, Value: input.AttrOr("value", "")})
		})
		forms = append(forms, form)
	})

	var fallback *Form
	for i := range forms {
		form := &forms[i]
		if form.Method != "post" {
			continue
		}
		if fallback == nil {
			fallback = form
		}
		if form.hasField(emailMatches) {
			return withDefaultAction(*form), token, nil
		}
	}
	if fallback != nil {
		return withDefaultAction(*fallback), token, nil
	}
	return Form{}, token, ErrFormNotFound
}

func withDefaultAction(f Form) Form {
	if f.Action == "" {
		f.Action = DefaultAction
	}
	return f
}

// FindCsrfToken extracts the csrf-token meta content from an HTML response
// body, or "" when none is present. The first tag with a content attribute
// wins, unlike Parse, where a later tag overrides an earlier one.
func FindCsrfToken(htmlBody string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlBody))
	if err != nil {
		return ""
	}
	var token string
	doc.Find(`meta[name="csrf-token"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if content, ok := sel.Attr("content"); ok {
			token = content
			return false
		}
		return true
	})
	return token
}

func csrfToken(doc *goquery.Document) string {
	var token string
	doc.Find(`meta[name="csrf-token"]`).Each(func(_ int, sel *goquery.Selection) {
		if content, ok := sel.Attr("content"); ok {
			token = content
		}
	})
	return token
}

// BuildPayload fills the form's field defaults with the supplied
// credentials. Email and password fields are located by the matching policy
// above and synthesized under Devise-style names when absent; a remember-me
// field is set to "1" unless it already carries a value.
func BuildPayload(form Form, email, password string) url.Values {
	payload := url.Values{}
	for _, field := range form.Fields {
		payload.Set(field.Name, field.Value)
	}

	payload.Set(locateField(form.Fields, emailMatches, fallbackEmailField), email)
	payload.Set(locateField(form.Fields, passwordMatches, fallbackPasswordField), password)

	for _, field := range form.Fields {
		if fieldMatches(field.Name, rememberMatches) {
			if payload.Get(field.Name) == "" {
				payload.Set(field.Name, "1")
			}
			break
		}
	}
	return payload
}

func locateField(fields []Field, substrings []string, fallback string) string {
	for _, field := range fields {
		if fieldMatches(field.Name, substrings) {
			return field.Name
		}
	}
	return fallback
}
