// Package prompts renders the model prompts from embedded Go templates.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"
)

//go:embed templates/*
var templatesFS embed.FS

var templates = template.Must(template.ParseFS(templatesFS, "templates/*.md"))

// Scope selects which mistakes a review covers.
type Scope string

const (
	ScopeSession Scope = "session"
	ScopeAll     Scope = "all"
	ScopeUnclear Scope = "unclear"
)

func (s Scope) description() string {
	switch s {
	case ScopeAll:
		return "every mistake the user has made across all of their conversations"
	default:
		return "the mistakes the user made in this conversation"
	}
}

// TutorSystem returns the system instruction for conversational practice.
func TutorSystem() string {
	out, err := render("tutor_system.md", nil)
	if err != nil {
		panic(err)
	}
	return out
}

// Classification renders the intent classification prompt for query.
func Classification(query string) (string, error) {
	return render("classify_intent.md", struct{ Query string }{query})
}

// Review renders the system instruction and user contents for a mistake review.
// summary is the rendered mistakes summary markup.
func Review(scope Scope, summary, query string) (system, user string, err error) {
	system, err = render("review_system.md", struct {
		Scope   string
		Unclear bool
	}{scope.description(), scope == ScopeUnclear})
	if err != nil {
		return "", "", err
	}

	user, err = render("review_user.md", struct {
		Summary string
		Query   string
	}{summary, query})
	if err != nil {
		return "", "", err
	}
	return system, user, nil
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}
