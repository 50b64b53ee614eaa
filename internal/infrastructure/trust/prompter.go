package trust

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
)

// Prompter asks the user for a consent decision interactively. Running
// non-interactively always denies.
type Prompter struct{}

// NewPrompter creates a Prompter.
func NewPrompter() *Prompter {
	return &Prompter{}
}

// IsInteractive reports whether stdin is a terminal.
func (p *Prompter) IsInteractive() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// Ask prompts for consent to run the package identified by digest on the
// given board. It returns the chosen scope, or ok=false on denial.
func (p *Prompter) Ask(name, digest, boardID string, permissions []string) (Decision, bool, error) {
	if !p.IsInteractive() {
		return Decision{}, false, fmt.Errorf(
			"package %s (%s) is not trusted; run interactively to approve or use `flowhost trust grant`",
			name, shortDigest(digest))
	}

	description := fmt.Sprintf("Package digest: %s", shortDigest(digest))
	if len(permissions) > 0 {
		description += "\nDeclared permissions:"
		for _, perm := range permissions {
			description += "\n  - " + perm
		}
	}

	var choice string
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title(fmt.Sprintf("Run sideloaded package %q?", name)).
			Description(description).
			Options(consentOptions(boardID)...).
			Value(&choice),
	))
	if err := form.Run(); err != nil {
		// Prompt failure counts as denial, never as consent.
		return Decision{}, false, nil
	}

	switch Scope(choice) {
	case ScopeOnce:
		return Decision{Digest: digest, Scope: ScopeOnce}, true, nil
	case ScopeBoard:
		return Decision{Digest: digest, Scope: ScopeBoard, BoardID: boardID}, true, nil
	case ScopePackage:
		return Decision{Digest: digest, Scope: ScopePackage}, true, nil
	default:
		return Decision{}, false, nil
	}
}

// consentOptions lists the scopes the user may pick. A board grant is
// meaningless without a board, so that option only appears when the
// invocation carries one.
func consentOptions(boardID string) []huh.Option[string] {
	opts := []huh.Option[string]{
		huh.NewOption("Deny", "deny"),
		huh.NewOption("Allow once", string(ScopeOnce)),
	}
	if boardID != "" {
		opts = append(opts, huh.NewOption("Allow on this board", string(ScopeBoard)))
	}
	return append(opts, huh.NewOption("Allow everywhere", string(ScopePackage)))
}

func shortDigest(digest string) string {
	if len(digest) > 16 {
		return digest[:16]
	}
	return digest
}
