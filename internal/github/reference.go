package github

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/joescharf/prt/internal/models"
)

// Reference locates a pull request on github.com.
type Reference struct {
	Owner  string
	Repo   string
	Number int
}

func (r Reference) String() string {
	return fmt.Sprintf("%s/%s#%d", r.Owner, r.Repo, r.Number)
}

const (
	ownerPattern = `[A-Za-z0-9](?:[A-Za-z0-9-]*[A-Za-z0-9])?`
	repoPattern  = `[A-Za-z0-9._-]+`
)

var referencePatterns = []*regexp.Regexp{
	// https://github.com/owner/repo/pull/42, optionally followed by /files, ?query or #fragment
	regexp.MustCompile(`^(?:https?://)?(?:www\.)?github\.com/(` + ownerPattern + `)/(` + repoPattern + `)/pull/(\d+)(?:[/?#].*)?$`),
	// owner/repo/pull/42
	regexp.MustCompile(`^(` + ownerPattern + `)/(` + repoPattern + `)/pull/(\d+)/?$`),
	// owner/repo#42
	regexp.MustCompile(`^(` + ownerPattern + `)/(` + repoPattern + `)#(\d+)$`),
}

// ParseReference parses a pull request URL or shorthand. Errors wrap
// models.ErrInvalidReference.
func ParseReference(s string) (Reference, error) {
	s = strings.TrimSpace(s)
	for _, re := range referencePatterns {
		m := re.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[3])
		if err != nil || n <= 0 {
			return Reference{}, fmt.Errorf("%w: %q: bad pull request number", models.ErrInvalidReference, s)
		}
		repo := strings.TrimSuffix(m[2], ".git")
		if repo == "" || repo == "." || repo == ".." {
			break
		}
		return Reference{Owner: m[1], Repo: repo, Number: n}, nil
	}
	return Reference{}, fmt.Errorf("%w: %q (want https://github.com/owner/repo/pull/N or owner/repo#N)", models.ErrInvalidReference, s)
}
