// Package classifier decides whether a work item's link belongs to a known
// pattern: the link's domain token must be a pattern followed by at least
// four digits and nothing else.
package classifier

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/weppos/publicsuffix-go/publicsuffix"
)

// DefaultSuffixes are the blog platforms whose subdomain label is the token.
var DefaultSuffixes = []string{"tistory.com"}

var ErrNoHost = errors.New("link has no host")

// Result is the match result for a single link.
type Result struct {
	Matched  bool
	Pattern  string
	Token    string
	Host     string
	Platform string // registrable domain, e.g. tistory.com
}

// Description returns the canonical match description used in activity logs.
func (r Result) Description() string {
	if r.Matched {
		return "matched:" + r.Pattern
	}
	return "no-match"
}

type compiledPattern struct {
	raw string
	re  *regexp.Regexp
}

// Classifier matches domain tokens against an ordered pattern list.
type Classifier struct {
	patterns []compiledPattern
	suffixes []string
}

// New compiles patterns in order. Blank patterns are skipped: an empty
// pattern would otherwise match any all-digit token.
func New(patterns []string, suffixes []string) *Classifier {
	if suffixes == nil {
		suffixes = DefaultSuffixes
	}
	c := &Classifier{suffixes: normalizeSuffixes(suffixes)}
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			continue
		}
		c.patterns = append(c.patterns, compiledPattern{
			raw: p,
			re:  regexp.MustCompile(`^` + regexp.QuoteMeta(p) + `\d{4,}$`),
		})
	}
	return c
}

// Len returns the number of usable patterns.
func (c *Classifier) Len() int {
	return len(c.patterns)
}

// Classify computes the match result for link. An empty link is NotMatched
// with no error; callers that need to tell "no link" apart check first.
func (c *Classifier) Classify(link string) (Result, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return Result{}, nil
	}

	host, err := Host(link)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Host:     host,
		Token:    DomainToken(host, c.suffixes),
		Platform: platform(host),
	}
	for _, p := range c.patterns {
		if p.re.MatchString(res.Token) {
			res.Matched = true
			res.Pattern = p.raw
			return res, nil
		}
	}
	return res, nil
}

// Host extracts the host name (without port) from link.
func Host(link string) (string, error) {
	raw := link
	// If a link looks like a domain but lacks a scheme, url.Parse can fail to
	// identify the host. Prepending a scheme makes parsing more reliable.
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse link %q: %w", link, err)
	}
	host := strings.TrimSuffix(u.Hostname(), ".")
	if host == "" {
		return "", fmt.Errorf("%q: %w", link, ErrNoHost)
	}
	return host, nil
}

// DomainToken returns the label right before a known suffix, or host itself.
// e.g., "write88721.tistory.com" -> "write88721"
func DomainToken(host string, suffixes []string) string {
	for _, s := range normalizeSuffixes(suffixes) {
		// Host names are case-insensitive; the token keeps its original case.
		n := len(host) - len(s) - 1
		if n < 0 || !strings.EqualFold(host[n:], "."+s) {
			continue
		}
		rest := host[:n]
		if i := strings.LastIndex(rest, "."); i >= 0 {
			rest = rest[i+1:]
		}
		if rest != "" {
			return rest
		}
	}
	return host
}

func normalizeSuffixes(suffixes []string) []string {
	out := make([]string, 0, len(suffixes))
	for _, s := range suffixes {
		s = strings.Trim(strings.TrimSpace(s), ".")
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func platform(host string) string {
	if !strings.Contains(host, ".") {
		return ""
	}
	domain, err := publicsuffix.Domain(strings.ToLower(host))
	if err != nil {
		return ""
	}
	return domain
}
