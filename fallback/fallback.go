// Package fallback synthesizes deterministic placeholder metadata so widgets
// never render empty when the remote API is unavailable or rate limited.
// Every function here is pure: the same repository always produces the same
// fallback set.
package fallback

import (
	"strings"
	"time"

	"github.com/wolfeidau/showcase-cache/github"
)

// kind is the inferred project category of a repository, matched on keywords
// in its lower-cased name and description.
type kind int

const (
	kindGeneric kind = iota
	kindWeb
	kindScripting
	kindAPI
	kindBot
)

// classify picks a project category. Priority order matters: the website
// pattern wins over everything, then scripting, API, and bot.
func classify(repo github.Repository) kind {
	name := strings.ToLower(repo.Name)
	description := strings.ToLower(repo.Description)
	owner := strings.ToLower(ownerOf(repo))

	switch {
	case strings.Contains(name, "website") || strings.Contains(name, "portfolio") ||
		(owner != "" && strings.Contains(name, owner)):
		return kindWeb
	case strings.Contains(name, "mod") || strings.Contains(name, "script") ||
		strings.Contains(description, "mod"):
		return kindScripting
	case strings.Contains(name, "api") || strings.Contains(description, "api"):
		return kindAPI
	case strings.Contains(name, "bot") || strings.Contains(description, "bot"):
		return kindBot
	default:
		return kindGeneric
	}
}

func ownerOf(repo github.Repository) string {
	owner, _, ok := strings.Cut(repo.FullName, "/")
	if !ok {
		return ""
	}
	return owner
}

// Files returns a plausible root directory listing for the repository.
func Files(repo github.Repository) []github.ContentEntry {
	switch classify(repo) {
	case kindWeb:
		return entries("src/d", "public/d", "package.json/f", "README.md/f", "build/d", "assets/d")
	case kindScripting:
		return entries("src/d", "scripts/d", "config/d", "README.md/f", "manifest.json/f")
	case kindAPI:
		return entries("src/d", "routes/d", "models/d", "README.md/f", "package.json/f")
	case kindBot:
		return entries("src/d", "commands/d", "events/d", "README.md/f", "config.json/f")
	default:
		return entries("src/d", "lib/d", "README.md/f", "package.json/f", ".gitignore/f")
	}
}

func entries(specs ...string) []github.ContentEntry {
	out := make([]github.ContentEntry, 0, len(specs))
	for _, s := range specs {
		name, typ, _ := strings.Cut(s, "/")
		entryType := "file"
		if typ == "d" {
			entryType = "dir"
		}
		out = append(out, github.ContentEntry{Name: name, Type: entryType})
	}
	return out
}

// Languages returns a plausible language mix as percentages summing to 100.
func Languages(repo github.Repository) map[string]int {
	switch classify(repo) {
	case kindWeb:
		return map[string]int{"JavaScript": 60, "CSS": 25, "HTML": 15}
	case kindScripting:
		return map[string]int{"JavaScript": 70, "Python": 30}
	case kindAPI:
		return map[string]int{"JavaScript": 60, "TypeScript": 40}
	case kindBot:
		return map[string]int{"JavaScript": 85, "JSON": 15}
	default:
		lang := repo.Language
		if lang == "" {
			lang = "JavaScript"
		}
		return map[string]int{lang: 100}
	}
}

// Repositories returns the static two-entry placeholder list used when the
// repository listing fails irrecoverably.
func Repositories(owner string) []github.Repository {
	now := time.Now().UTC()
	lower := strings.ToLower(owner)
	return []github.Repository{
		{
			ID:          1,
			Name:        lower + ".github.io",
			FullName:    owner + "/" + lower + ".github.io",
			Description: "Personal portfolio website showcasing projects and skills",
			HTMLURL:     "https://github.com/" + owner + "/" + lower + ".github.io",
			Language:    "JavaScript",
			UpdatedAt:   now,
		},
		{
			ID:          2,
			Name:        lower + "-assets",
			FullName:    owner + "/" + lower + "-assets",
			Description: "Collection of images and assets",
			HTMLURL:     "https://github.com/" + owner + "/" + lower + "-assets",
			UpdatedAt:   now,
		},
	}
}
