// Package persona maps assistant personas to their corpus, memory partition
// and prompt templates.
package persona

import (
	"errors"
	"strings"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
)

// Persona identifies an assistant configuration. The set is closed.
type Persona string

const (
	General     Persona = "general"
	MyersBriggs Persona = "myers-briggs"
)

var ErrInvalidPersona = errors.New("invalid persona")

// All lists every known persona.
func All() []Persona {
	return []Persona{General, MyersBriggs}
}

// Parse validates a persona identifier. Matching ignores case and
// surrounding whitespace.
func Parse(v string) (Persona, error) {
	p := Persona(strings.ToLower(strings.TrimSpace(v)))
	if _, ok := profiles[p]; !ok {
		return "", goerr.Wrap(ErrInvalidPersona, "unknown persona", goerr.V("persona", v))
	}
	return p, nil
}

func (p Persona) String() string { return string(p) }

// Collection is the vector index collection holding this persona's corpus.
func (p Persona) Collection() string {
	return "storai_" + strings.ReplaceAll(string(p), "-", "_")
}

// Profile holds the prompt templates of one persona.
type Profile struct {
	Persona Persona
	// ColdStart is sent when the user has no stored summary yet.
	ColdStart string

	welcomeBack *template.Template
	turn        *template.Template
}

// For returns the profile of p.
func For(p Persona) (Profile, error) {
	prof, ok := profiles[p]
	if !ok {
		return Profile{}, goerr.Wrap(ErrInvalidPersona, "no profile for persona", goerr.V("persona", string(p)))
	}
	return prof, nil
}

// TurnInput is interpolated into the main-turn template.
type TurnInput struct {
	Summary string
	Query   string
	Context string
}

const noContext = "No relevant documents found."

// IntroductionPrompt returns the cold-start prompt when summary is empty and
// a welcome-back prompt otherwise.
func (p Profile) IntroductionPrompt(summary string) (string, error) {
	if strings.TrimSpace(summary) == "" {
		return p.ColdStart, nil
	}
	return render(p.welcomeBack, TurnInput{Summary: summary})
}

// TurnPrompt renders the main-turn prompt.
func (p Profile) TurnPrompt(in TurnInput) (string, error) {
	if strings.TrimSpace(in.Context) == "" {
		in.Context = noContext
	}
	return render(p.turn, in)
}

func render(t *template.Template, in TurnInput) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, in); err != nil {
		return "", goerr.Wrap(err, "render prompt", goerr.V("template", t.Name()))
	}
	return b.String(), nil
}
