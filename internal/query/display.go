package query

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DisplayState turns a stored state folder name into a label:
// "andaman-&-nicobar-islands" -> "Andaman & Nicobar Islands".
// The national aggregate "All" is returned unchanged.
func DisplayState(state string) string {
	if state == "" || state == "All" {
		return state
	}
	return cases.Title(language.English).String(strings.ReplaceAll(state, "-", " "))
}
