package sources

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"token-analyst/internal/retry"
	"token-analyst/internal/upstream"
)

// Social search defaults.
const (
	DefaultXAPIURL       = "https://api.twitter.com/2"
	DefaultSocialSoftCap = 50
	DefaultSocialPerPage = 25
)

// ErrNoPosts is returned when a search produced no posts.
var ErrNoPosts = errors.New("no posts found")

// Post is one social post.
type Post struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	AuthorID   string `json:"authorId"`
	Author     string `json:"author,omitempty"`
	CreatedAt  string `json:"createdAt,omitempty"`
	Likes      int    `json:"likes"`
	Reposts    int    `json:"reposts"`
	Replies    int    `json:"replies"`
	Quotes     int    `json:"quotes"`
	Engagement int    `json:"engagement"`
}

// SocialData is the social adapter payload.
type SocialData struct {
	Handle           string   `json:"handle,omitempty"`
	Followers        int      `json:"followers,omitempty"`
	Queries          []string `json:"queries"`
	PostCount        int      `json:"postCount"`
	UniqueAuthors    int      `json:"uniqueAuthors"`
	TotalEngagement  int      `json:"totalEngagement"`
	AvgEngagement    float64  `json:"avgEngagement"`
	EngagementScore  float64  `json:"engagementScore"` // 0..100
	SentimentScore   float64  `json:"sentimentScore"`  // -1..1
	PositiveMentions int      `json:"positiveMentions"`
	NegativeMentions int      `json:"negativeMentions"`
	TopPosts         []Post   `json:"topPosts"`
	Generated        bool     `json:"generated"`
	Note             string   `json:"note,omitempty"`
}

// HandleResolver finds the X handle of a project.
type HandleResolver interface {
	ResolveHandle(ctx context.Context, q Query) (string, error)
}

// HandleResolverFunc adapts a function to HandleResolver.
type HandleResolverFunc func(ctx context.Context, q Query) (string, error)

// ResolveHandle calls f.
func (f HandleResolverFunc) ResolveHandle(ctx context.Context, q Query) (string, error) {
	return f(ctx, q)
}

// SocialSourceConfig configures SocialSource.
type SocialSourceConfig struct {
	SoftCap int
	PerPage int
	// QueriesPerSecond paces search requests; <= 0 disables pacing.
	QueriesPerSecond float64
}

// SocialSource measures social activity through X API v2 recent search.
// Without credentials, or when nothing is found, it returns a generated
// payload instead of failing.
type SocialSource struct {
	client  *upstream.Client
	enabled bool
	handles HandleResolver
	limiter *rate.Limiter
	cfg     SocialSourceConfig
	logger  zerolog.Logger
}

// NewSocialSource creates a SocialSource. client must carry the bearer
// token; enabled is false when no token is configured. handles may be nil.
func NewSocialSource(client *upstream.Client, enabled bool, handles HandleResolver, cfg SocialSourceConfig) *SocialSource {
	if cfg.SoftCap <= 0 {
		cfg.SoftCap = DefaultSocialSoftCap
	}
	if cfg.PerPage <= 0 {
		cfg.PerPage = DefaultSocialPerPage
	}
	s := &SocialSource{
		client:  client,
		enabled: enabled && client != nil,
		handles: handles,
		cfg:     cfg,
		logger:  log.With().Str("source", "social").Logger(),
	}
	if cfg.QueriesPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.QueriesPerSecond), 1)
	}
	return s
}

// Analyze implements Adapter.
func (s *SocialSource) Analyze(ctx context.Context, q Query) Result {
	if !s.enabled {
		return s.generated(q, upstream.ErrMissingCredential)
	}

	handle := ""
	if s.handles != nil {
		h, err := s.handles.ResolveHandle(ctx, q)
		if err != nil {
			s.logger.Debug().Err(err).Msg("handle not resolved")
		}
		handle = h
	}

	queries := searchQueries(handle, q)
	if len(queries) == 0 {
		return s.generated(q, errors.New("nothing to search for"))
	}

	posts, authors, followers, err := s.collect(ctx, handle, queries)
	if len(posts) == 0 {
		if err == nil {
			err = ErrNoPosts
		}
		return s.generated(q, err)
	}

	data := scorePosts(posts, authors)
	data.Handle = handle
	data.Followers = followers
	data.Queries = queries
	if err != nil {
		data.Note = "partial: " + err.Error()
	}
	return OK("social", DataSourceLive, data)
}

// collect runs queries in order until SoftCap posts are gathered. Errors
// on later queries keep the posts already read.
func (s *SocialSource) collect(ctx context.Context, handle string, queries []string) ([]Post, map[string]string, int, error) {
	var (
		posts     []Post
		seen      = make(map[string]struct{})
		authors   = make(map[string]string)
		followers int
		errs      []error
	)
	for _, query := range queries {
		if len(posts) >= s.cfg.SoftCap {
			break
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				errs = append(errs, err)
				break
			}
		}

		resp, err := s.search(ctx, query, s.cfg.SoftCap-len(posts))
		if err != nil {
			s.logger.Warn().Str("query", query).Err(err).Msg("search failed")
			errs = append(errs, err)
			if errors.Is(err, retry.ErrRateLimitPersists) {
				break
			}
			continue
		}

		for _, u := range resp.Includes.Users {
			authors[u.ID] = u.Username
			if handle != "" && strings.EqualFold(u.Username, handle) {
				followers = u.PublicMetrics.Followers
			}
		}
		for _, t := range resp.Data {
			if _, dup := seen[t.ID]; dup {
				continue
			}
			seen[t.ID] = struct{}{}
			posts = append(posts, t.toPost())
			if len(posts) >= s.cfg.SoftCap {
				break
			}
		}
	}
	return posts, authors, followers, errors.Join(errs...)
}

func (s *SocialSource) search(ctx context.Context, query string, want int) (*xSearchResponse, error) {
	// X accepts max_results in [10, 100].
	n := max(min(want, s.cfg.PerPage, 100), 10)
	params := url.Values{
		"query":        {query},
		"max_results":  {strconv.Itoa(n)},
		"tweet.fields": {"created_at,public_metrics,author_id"},
		"expansions":   {"author_id"},
		"user.fields":  {"username,public_metrics"},
	}
	var resp xSearchResponse
	if err := s.client.GetJSON(ctx, "/tweets/search/recent", params, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// searchQueries returns the handle scoped query first, then a keyword
// query built from the symbol and name.
func searchQueries(handle string, q Query) []string {
	var out []string
	if handle != "" {
		out = append(out, fmt.Sprintf("from:%s -is:retweet", handle))
	}
	var terms []string
	if q.Symbol != "" {
		terms = append(terms, `"$`+strings.TrimPrefix(q.Symbol, "$")+`"`)
	}
	if name := q.Name; name != "" && !strings.EqualFold(name, q.Symbol) {
		terms = append(terms, `"`+name+`"`)
	}
	if len(terms) == 0 && q.Kind == KindProjectName && q.Input != "" {
		terms = append(terms, `"`+q.Input+`"`)
	}
	if len(terms) > 0 {
		kw := strings.Join(terms, " OR ")
		if len(terms) > 1 {
			kw = "(" + kw + ")"
		}
		out = append(out, kw+" -is:retweet lang:en")
	}
	return out
}

var (
	positiveWords = map[string]struct{}{
		"bullish": {}, "moon": {}, "mooning": {}, "buy": {}, "gem": {}, "pump": {}, "ath": {},
		"breakout": {}, "undervalued": {}, "partnership": {}, "launch": {}, "listing": {},
		"strong": {}, "great": {}, "love": {}, "win": {}, "growth": {}, "up": {},
	}
	negativeWords = map[string]struct{}{
		"scam": {}, "rug": {}, "rugpull": {}, "dump": {}, "bearish": {}, "sell": {}, "hack": {},
		"hacked": {}, "exploit": {}, "fraud": {}, "dead": {}, "rekt": {}, "avoid": {}, "fake": {},
		"ponzi": {}, "honeypot": {}, "down": {}, "crash": {},
	}
	wordRe = regexp.MustCompile(`[a-z0-9]+`)
)

// LexiconSentiment scores text in [-1, 1] by counting lexicon hits. It also
// returns the positive and negative hit counts.
func LexiconSentiment(text string) (float64, int, int) {
	pos, neg := 0, 0
	for _, w := range wordRe.FindAllString(strings.ToLower(text), -1) {
		if _, ok := positiveWords[w]; ok {
			pos++
		}
		if _, ok := negativeWords[w]; ok {
			neg++
		}
	}
	if pos+neg == 0 {
		return 0, 0, 0
	}
	return float64(pos-neg) / float64(pos+neg), pos, neg
}

// scorePosts computes engagement and an engagement-weighted sentiment.
func scorePosts(posts []Post, authors map[string]string) SocialData {
	data := SocialData{PostCount: len(posts), TopPosts: []Post{}}
	unique := make(map[string]struct{})

	var weighted, weights float64
	for i := range posts {
		p := &posts[i]
		if name, ok := authors[p.AuthorID]; ok {
			p.Author = name
		}
		unique[p.AuthorID] = struct{}{}
		data.TotalEngagement += p.Engagement

		score, pos, neg := LexiconSentiment(p.Text)
		if pos > 0 || neg > 0 {
			w := 1 + math.Log1p(float64(p.Engagement))
			weighted += score * w
			weights += w
		}
		if score > 0 {
			data.PositiveMentions++
		} else if score < 0 {
			data.NegativeMentions++
		}
	}

	data.UniqueAuthors = len(unique)
	if len(posts) > 0 {
		data.AvgEngagement = round(float64(data.TotalEngagement)/float64(len(posts)), 2)
	}
	if weights > 0 {
		data.SentimentScore = round(clamp(weighted/weights, -1, 1), 3)
	}
	data.EngagementScore = round(clamp(
		20*math.Log10(1+data.AvgEngagement)+10*math.Log10(1+float64(data.UniqueAuthors)),
		0, 100), 1)

	top := append([]Post(nil), posts...)
	sort.SliceStable(top, func(i, j int) bool { return top[i].Engagement > top[j].Engagement })
	data.TopPosts = top[:min(3, len(top))]
	return data
}

// generated returns a deterministic estimate derived from the identifier
// so repeated analyses of the same token agree.
func (s *SocialSource) generated(q Query, reason error) Result {
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(q.Input))))
	seed := h.Sum32()

	s.logger.Info().Err(reason).Str("input", q.Input).Msg("using generated social estimate")
	res := OK("social", DataSourceGenerated, SocialData{
		Queries:         []string{},
		EngagementScore: float64(20 + seed%30),
		SentimentScore:  round((float64(seed%41)-20)/100, 2),
		TopPosts:        []Post{},
		Generated:       true,
		Note:            "estimated: " + reason.Error(),
	})
	res.Error = reason.Error()
	return res
}

type xSearchResponse struct {
	Data     []xTweet `json:"data"`
	Includes struct {
		Users []xUser `json:"users"`
	} `json:"includes"`
	Meta *struct {
		ResultCount int    `json:"result_count"`
		NextToken   string `json:"next_token"`
	} `json:"meta"`
}

// Validate requires meta and an id on every post.
func (r *xSearchResponse) Validate() error {
	if r.Meta == nil {
		return errors.New("missing meta")
	}
	for i, t := range r.Data {
		if t.ID == "" {
			return fmt.Errorf("data[%d]: missing id", i)
		}
	}
	return nil
}

type xTweet struct {
	ID            string `json:"id"`
	Text          string `json:"text"`
	AuthorID      string `json:"author_id"`
	CreatedAt     string `json:"created_at"`
	PublicMetrics struct {
		Retweets int `json:"retweet_count"`
		Replies  int `json:"reply_count"`
		Likes    int `json:"like_count"`
		Quotes   int `json:"quote_count"`
	} `json:"public_metrics"`
}

func (t xTweet) toPost() Post {
	m := t.PublicMetrics
	return Post{
		ID:         t.ID,
		Text:       t.Text,
		AuthorID:   t.AuthorID,
		CreatedAt:  t.CreatedAt,
		Likes:      m.Likes,
		Reposts:    m.Retweets,
		Replies:    m.Replies,
		Quotes:     m.Quotes,
		Engagement: m.Likes + 2*m.Retweets + m.Replies + m.Quotes,
	}
}

type xUser struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	PublicMetrics struct {
		Followers int `json:"followers_count"`
	} `json:"public_metrics"`
}

// ParseHandle extracts an X handle from a profile URL or "@name".
func ParseHandle(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
		if host != "twitter.com" && host != "x.com" && host != "mobile.twitter.com" {
			return ""
		}
		s = strings.Trim(u.Path, "/")
		s, _, _ = strings.Cut(s, "/")
	}
	s = strings.TrimPrefix(s, "@")
	if !handleRe.MatchString(s) {
		return ""
	}
	return s
}

var handleRe = regexp.MustCompile(`^[A-Za-z0-9_]{1,15}$`)

// PairHandleResolver reads the handle from DEX listing socials.
func PairHandleResolver(m *MarketSource) HandleResolver {
	return HandleResolverFunc(func(ctx context.Context, q Query) (string, error) {
		md, _, err := m.Lookup(ctx, q)
		if err != nil {
			return "", err
		}
		for _, soc := range md.Socials {
			if soc.Type == "twitter" || soc.Type == "x" {
				if h := ParseHandle(soc.URL); h != "" {
					return h, nil
				}
			}
		}
		return "", errors.New("listing has no twitter link")
	})
}

// ProfileHandleResolver reads the handle from off-chain token metadata.
func ProfileHandleResolver(p *Profiler) HandleResolver {
	return HandleResolverFunc(func(ctx context.Context, q Query) (string, error) {
		if q.Address == "" {
			return "", ErrNoAddress
		}
		prof, err := p.Profile(ctx, q.Address)
		if err != nil {
			return "", err
		}
		if h := ParseHandle(prof.Twitter); h != "" {
			return h, nil
		}
		return "", errors.New("metadata has no twitter link")
	})
}

// ChainHandleResolvers tries resolvers in order.
func ChainHandleResolvers(rs ...HandleResolver) HandleResolver {
	return HandleResolverFunc(func(ctx context.Context, q Query) (string, error) {
		var errs []error
		for _, r := range rs {
			h, err := r.ResolveHandle(ctx, q)
			if err == nil && h != "" {
				return h, nil
			}
			errs = append(errs, err)
		}
		return "", errors.Join(errs...)
	})
}
