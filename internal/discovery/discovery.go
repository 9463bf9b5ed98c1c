// Package discovery resolves the set of download targets for a run: it scrapes
// the API token from the landing page's script bundle and asks the target API
// for a list of CDN endpoints close to the client.
package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/js"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/joepadmiraal/speedprobe/internal/measure"
)

const (
	DefaultPageURL  = "https://fast.com/"
	DefaultAPIURL   = "https://api.fast.com/netflix/speedtest/v2"
	DefaultURLCount = 5

	maxBodySize = 8 << 20
)

var tokenKey = []byte("token")

// Config describes where the token and the targets come from.
type Config struct {
	PageURL   string
	APIURL    string
	URLCount  int
	UserAgent string
	Timeout   time.Duration
}

// Client discovers download targets over HTTP.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

type apiResponse struct {
	Client  measure.ClientInfo `json:"client"`
	Targets []measure.Target   `json:"targets"`
}

// NewClient fills unset fields of cfg with the defaults. httpClient may be nil.
func NewClient(cfg Config, httpClient *http.Client, logger *zap.Logger) *Client {
	if cfg.PageURL == "" {
		cfg.PageURL = DefaultPageURL
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.URLCount <= 0 {
		cfg.URLCount = DefaultURLCount
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{cfg: cfg, http: httpClient, logger: logger}
}

// Discover returns the measurement plan: targets plus what the API reports about the client.
func (c *Client) Discover(ctx context.Context) (measure.Plan, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	token, err := c.Token(ctx)
	if err != nil {
		return measure.Plan{}, err
	}
	c.logger.Debug("API token resolved")

	return c.Targets(ctx, token)
}

// Token loads the landing page, follows its first script reference and
// extracts the API token from the script source.
func (c *Client) Token(ctx context.Context) (string, error) {
	page, err := c.get(ctx, c.cfg.PageURL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDiscoveryFailed, err)
	}

	src, err := firstScriptSrc(bytes.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDiscoveryFailed, err)
	}
	if src == "" {
		return "", fmt.Errorf("%w: page has no script reference", ErrTokenNotFound)
	}

	base, err := url.Parse(c.cfg.PageURL)
	if err != nil {
		return "", fmt.Errorf("%w: invalid page URL: %w", ErrDiscoveryFailed, err)
	}
	ref, err := url.Parse(src)
	if err != nil {
		return "", fmt.Errorf("%w: invalid script reference %q: %w", ErrDiscoveryFailed, src, err)
	}
	scriptURL := base.ResolveReference(ref).String()
	c.logger.Debug("Fetching script bundle", zap.String("url", scriptURL))

	script, err := c.get(ctx, scriptURL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDiscoveryFailed, err)
	}

	token, err := extractToken(script)
	if err != nil {
		return "", fmt.Errorf("%w in %s: %w", ErrTokenNotFound, scriptURL, err)
	}
	return token, nil
}

// Targets asks the API for download endpoints.
func (c *Client) Targets(ctx context.Context, token string) (measure.Plan, error) {
	endpoint, err := url.Parse(c.cfg.APIURL)
	if err != nil {
		return measure.Plan{}, fmt.Errorf("%w: invalid API URL: %w", ErrDiscoveryFailed, err)
	}
	q := endpoint.Query()
	q.Set("https", "true")
	q.Set("token", token)
	q.Set("urlCount", strconv.Itoa(c.cfg.URLCount))
	endpoint.RawQuery = q.Encode()

	body, err := c.get(ctx, endpoint.String())
	if err != nil {
		return measure.Plan{}, fmt.Errorf("%w: %w", ErrDiscoveryFailed, err)
	}

	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return measure.Plan{}, fmt.Errorf("%w: decode target list: %w", ErrDiscoveryFailed, err)
	}

	targets := resp.Targets[:0]
	for _, t := range resp.Targets {
		if t.URL != "" {
			targets = append(targets, t)
		}
	}
	if len(targets) == 0 {
		return measure.Plan{}, ErrNoTargets
	}

	c.logger.Info("Download targets discovered",
		zap.Int("targets", len(targets)),
		zap.String("client_isp", resp.Client.ISP),
	)
	return measure.Plan{Targets: targets, Client: resp.Client}, nil
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: unexpected status %s", rawURL, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("GET %s: read body: %w", rawURL, err)
	}
	return body, nil
}

// firstScriptSrc returns the src attribute of the first <script> element that has one.
func firstScriptSrc(r io.Reader) (string, error) {
	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				return "", nil
			}
			return "", z.Err()
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "script" || !hasAttr {
				continue
			}
			for {
				key, val, more := z.TagAttr()
				if string(key) == "src" && len(val) > 0 {
					return string(val), nil
				}
				if !more {
					break
				}
			}
		}
	}
}

// extractToken parses script and returns the string value of the first object
// property named token, in source order.
func extractToken(script []byte) (string, error) {
	ast, err := js.Parse(parse.NewInputBytes(script), js.Options{})
	if err != nil {
		return "", fmt.Errorf("parse script: %w", err)
	}
	f := &tokenFinder{}
	js.Walk(f, ast)
	if !f.found {
		return "", errors.New("no token property")
	}
	return f.token, nil
}

type tokenFinder struct {
	token string
	found bool
}

func (f *tokenFinder) Enter(n js.INode) js.IVisitor {
	if f.found {
		return nil
	}
	p, ok := n.(*js.Property)
	if !ok || !isTokenKey(p.Name) {
		return f
	}
	if lit, ok := p.Value.(*js.LiteralExpr); ok && lit.TokenType == js.StringToken {
		f.token, f.found = unquote(lit.Data), true
		return nil
	}
	return f
}

func (f *tokenFinder) Exit(js.INode) {}

func isTokenKey(name *js.PropertyName) bool {
	if name == nil || name.IsComputed() {
		return false
	}
	if name.IsIdent(tokenKey) {
		return true
	}
	return name.Literal.TokenType == js.StringToken && unquote(name.Literal.Data) == string(tokenKey)
}

// unquote strips the delimiters of a string literal; escape sequences are kept as written.
func unquote(lit []byte) string {
	if len(lit) < 2 {
		return string(lit)
	}
	return string(lit[1 : len(lit)-1])
}
