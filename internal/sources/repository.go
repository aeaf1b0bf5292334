package sources

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"token-analyst/internal/upstream"
)

// DefaultGitHubURL is the public GitHub REST API.
const DefaultGitHubURL = "https://api.github.com"

// ErrNoRepository is returned when no repository could be located.
var ErrNoRepository = errors.New("no repository found")

// RepoOwner is the GitHub account owning a repository.
type RepoOwner struct {
	Login       string `json:"login"`
	Type        string `json:"type"`
	Followers   int    `json:"followers"`
	PublicRepos int    `json:"publicRepos"`
	CreatedAt   string `json:"createdAt,omitempty"`
}

// RepositoryData is the repository adapter payload.
type RepositoryData struct {
	FullName      string     `json:"fullName"`
	URL           string     `json:"url"`
	Description   string     `json:"description,omitempty"`
	Stars         int        `json:"stars"`
	Forks         int        `json:"forks"`
	OpenIssues    int        `json:"openIssues"`
	Watchers      int        `json:"watchers"`
	Language      string     `json:"language,omitempty"`
	License       string     `json:"license,omitempty"`
	Archived      bool       `json:"archived"`
	CreatedAt     string     `json:"createdAt,omitempty"`
	PushedAt      string     `json:"pushedAt,omitempty"`
	DaysSincePush int        `json:"daysSincePush"`
	ActivityLevel string     `json:"activityLevel"`
	ResolvedFrom  string     `json:"resolvedFrom"` // "input", "listing" or "search"
	Owner         *RepoOwner `json:"owner,omitempty"`
}

// RepositorySource reads repository health from GitHub.
type RepositorySource struct {
	client *upstream.Client
	market *MarketSource
	now    func() time.Time
	logger zerolog.Logger
}

// NewRepositorySource creates a RepositorySource. market supplies listing
// website links and may be nil.
func NewRepositorySource(client *upstream.Client, market *MarketSource) *RepositorySource {
	return &RepositorySource{
		client: client,
		market: market,
		now:    time.Now,
		logger: log.With().Str("source", "repository").Logger(),
	}
}

// Analyze implements Adapter.
func (s *RepositorySource) Analyze(ctx context.Context, q Query) Result {
	owner, repo, from, err := s.locate(ctx, q)
	if err != nil {
		return Fail("repository", err, nil)
	}

	var r ghRepo
	if err := s.client.GetJSON(ctx, fmt.Sprintf("/repos/%s/%s", url.PathEscape(owner), url.PathEscape(repo)), nil, &r); err != nil {
		return Fail("repository", err, nil)
	}
	data := s.toData(r)
	data.ResolvedFrom = from

	var u ghUser
	if err := s.client.GetJSON(ctx, "/users/"+url.PathEscape(r.Owner.Login), nil, &u); err != nil {
		s.logger.Debug().Err(err).Str("owner", r.Owner.Login).Msg("owner lookup failed")
	} else {
		data.Owner = &RepoOwner{
			Login:       u.Login,
			Type:        u.Type,
			Followers:   u.Followers,
			PublicRepos: u.PublicRepos,
			CreatedAt:   u.CreatedAt,
		}
	}
	return OK("repository", DataSourceLive, data)
}

var (
	repoURLRe  = regexp.MustCompile(`(?i)github\.com/([A-Za-z0-9-]+)/([A-Za-z0-9._-]+)`)
	repoPathRe = regexp.MustCompile(`^([A-Za-z0-9-]+)/([A-Za-z0-9._-]+)$`)
)

// ParseRepository extracts owner and repo from a GitHub URL or an
// "owner/repo" string.
func ParseRepository(s string) (string, string, bool) {
	s = strings.TrimSpace(s)
	if m := repoURLRe.FindStringSubmatch(s); m != nil {
		return m[1], strings.TrimSuffix(m[2], ".git"), true
	}
	if m := repoPathRe.FindStringSubmatch(s); m != nil {
		return m[1], m[2], true
	}
	return "", "", false
}

// locate resolves the repository from the input, then the DEX listing
// links, then a GitHub search for project names.
func (s *RepositorySource) locate(ctx context.Context, q Query) (string, string, string, error) {
	if owner, repo, ok := ParseRepository(q.Input); ok {
		return owner, repo, "input", nil
	}

	if s.market != nil && (q.Address != "" || q.Kind == KindProjectName) {
		if md, _, err := s.market.Lookup(ctx, q); err == nil {
			links := append(append([]string{}, md.Websites...), socialURLs(md.Socials)...)
			for _, link := range links {
				if owner, repo, ok := ParseRepository(link); ok {
					return owner, repo, "listing", nil
				}
			}
		}
	}

	term := q.SearchTerm()
	if q.Kind != KindProjectName && q.Name == "" && q.Symbol == "" {
		return "", "", "", ErrNoRepository
	}
	if strings.TrimSpace(term) == "" {
		return "", "", "", ErrNoRepository
	}
	var res ghSearch
	params := url.Values{"q": {term + " in:name,description"}, "sort": {"stars"}, "per_page": {"1"}}
	if err := s.client.GetJSON(ctx, "/search/repositories", params, &res); err != nil {
		return "", "", "", err
	}
	if len(res.Items) == 0 {
		return "", "", "", fmt.Errorf("%w for %q", ErrNoRepository, term)
	}
	owner, repo, ok := ParseRepository(res.Items[0].FullName)
	if !ok {
		return "", "", "", upstream.Structural("github", "unexpected full_name %q", res.Items[0].FullName)
	}
	return owner, repo, "search", nil
}

func socialURLs(ss []Social) []string {
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		out = append(out, s.URL)
	}
	return out
}

func (s *RepositorySource) toData(r ghRepo) RepositoryData {
	data := RepositoryData{
		FullName:    r.FullName,
		URL:         r.HTMLURL,
		Description: r.Description,
		Stars:       r.Stars,
		Forks:       r.Forks,
		OpenIssues:  r.OpenIssues,
		Watchers:    r.Watchers,
		Language:    r.Language,
		Archived:    r.Archived,
		CreatedAt:   r.CreatedAt,
		PushedAt:    r.PushedAt,
	}
	if r.License != nil {
		data.License = r.License.SPDXID
	}
	data.DaysSincePush = -1
	if t, err := time.Parse(time.RFC3339, r.PushedAt); err == nil {
		data.DaysSincePush = int(math.Floor(s.now().Sub(t).Hours() / 24))
	}
	data.ActivityLevel = repoActivity(data)
	return data
}

func repoActivity(d RepositoryData) string {
	switch {
	case d.Archived || d.DaysSincePush < 0:
		return ActivityInactive
	case d.DaysSincePush <= 30:
		return ActivityHigh
	case d.DaysSincePush <= 180:
		return ActivityMedium
	case d.DaysSincePush <= 365:
		return ActivityLow
	default:
		return ActivityInactive
	}
}

type ghRepo struct {
	FullName    string `json:"full_name"`
	HTMLURL     string `json:"html_url"`
	Description string `json:"description"`
	Stars       int    `json:"stargazers_count"`
	Forks       int    `json:"forks_count"`
	OpenIssues  int    `json:"open_issues_count"`
	Watchers    int    `json:"subscribers_count"`
	Language    string `json:"language"`
	Archived    bool   `json:"archived"`
	CreatedAt   string `json:"created_at"`
	PushedAt    string `json:"pushed_at"`
	License     *struct {
		SPDXID string `json:"spdx_id"`
	} `json:"license"`
	Owner struct {
		Login string `json:"login"`
	} `json:"owner"`
}

// Validate requires the repository identity.
func (r *ghRepo) Validate() error {
	if r.FullName == "" || r.HTMLURL == "" || r.Owner.Login == "" {
		return errors.New("missing full_name, html_url or owner.login")
	}
	return nil
}

type ghUser struct {
	Login       string `json:"login"`
	Type        string `json:"type"`
	Followers   int    `json:"followers"`
	PublicRepos int    `json:"public_repos"`
	CreatedAt   string `json:"created_at"`
}

// Validate requires the login.
func (u *ghUser) Validate() error {
	if u.Login == "" {
		return errors.New("missing login")
	}
	return nil
}

type ghSearch struct {
	TotalCount *int `json:"total_count"`
	Items      []struct {
		FullName string `json:"full_name"`
	} `json:"items"`
}

// Validate requires total_count.
func (r *ghSearch) Validate() error {
	if r.TotalCount == nil {
		return errors.New("missing total_count")
	}
	return nil
}
