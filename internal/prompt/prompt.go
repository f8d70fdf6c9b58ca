// Package prompt holds the system instructions used by the intent
// classifier, the ticket conversation flow, and the QA answer path.
//
// Defaults are embedded in the binary so the server runs with no extra
// files. Operators can override any instruction by dropping a file with
// the same name into the configured prompt directory; prompts are plain
// text, loaded once at startup.
package prompt

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

//go:embed prompts/*.txt
var promptsFS embed.FS

// Prompt names, matching the embedded file names without extension.
const (
	NameIntent = "intent"
	NameTicket = "ticket"
	NameQA     = "qa"
)

// Set is the resolved collection of system instructions.
type Set struct {
	// Intent is the classifier system instruction.
	Intent string

	// Ticket is the tool-calling ticket flow system instruction.
	Ticket string

	// QA is the retrieval-grounded answer path system instruction.
	QA string
}

// TicketWithCategories returns the ticket instruction with the closed
// category set rendered in, so the model only ever uses configured
// categories and reprompts when the user's issue fits none of them.
func (s *Set) TicketWithCategories(categories []string) string {
	if len(categories) == 0 {
		return s.Ticket
	}
	return s.Ticket + "\n\nThe only valid ticket categories are: " +
		strings.Join(categories, ", ") +
		". Never use a category outside this list; if the user's issue does not clearly fit one, ask them to choose a category from the list before creating the ticket."
}

// Load resolves the prompt set. dir may be empty, in which case only the
// embedded defaults are used. A file named <name>.txt in dir replaces
// the embedded instruction of the same name; other files are ignored.
func Load(dir string) (*Set, error) {
	load := func(name string) (string, error) {
		if dir != "" {
			override := filepath.Join(dir, name+".txt")
			data, err := os.ReadFile(override)
			if err == nil {
				return strings.TrimSpace(string(data)), nil
			}
			if !os.IsNotExist(err) {
				return "", fmt.Errorf("reading prompt override %s: %w", override, err)
			}
		}
		data, err := promptsFS.ReadFile("prompts/" + name + ".txt")
		if err != nil {
			return "", fmt.Errorf("reading embedded prompt %s: %w", name, err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	set := &Set{}
	var err error
	if set.Intent, err = load(NameIntent); err != nil {
		return nil, err
	}
	if set.Ticket, err = load(NameTicket); err != nil {
		return nil, err
	}
	if set.QA, err = load(NameQA); err != nil {
		return nil, err
	}
	return set, nil
}
