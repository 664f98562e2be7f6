package patterns

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/labelbot/labelbot/pkg/whttp"
	"github.com/tidwall/gjson"
)

const GOOGLE_DOCS_BASE = "https://docs.google.com"

// GVizSource reads one column of a Google Sheets worksheet through the
// visualization query endpoint. The sheet must be viewable by link.
type GVizSource struct {
	SheetID    string
	Sheet      string
	Column     int // 0-based
	SkipHeader bool
	BaseURL    string
	Client     *retryablehttp.Client
}

func (s *GVizSource) Name() string { return "gsheet:" + s.SheetID + "/" + s.Sheet }

func (s *GVizSource) endpoint() string {
	base := s.BaseURL
	if base == "" {
		base = GOOGLE_DOCS_BASE
	}
	q := url.Values{}
	q.Set("tqx", "out:json")
	q.Set("headers", "0")
	q.Set("sheet", s.Sheet)
	return strings.TrimRight(base, "/") + "/spreadsheets/d/" + url.PathEscape(s.SheetID) + "/gviz/tq?" + q.Encode()
}

func (s *GVizSource) Fetch(ctx context.Context) ([]string, error) {
	res, err := whttp.SendHTTPRequest(ctx, &whttp.WHTTPReq{Method: http.MethodGet, URL: s.endpoint()}, s.Client)
	if err != nil {
		return nil, fmt.Errorf("fetch sheet: %w", err)
	}
	if err := checkSheetResponse(res); err != nil {
		return nil, err
	}
	return parseGViz(res.BodyString, s.Column, s.SkipHeader)
}

// parseGViz extracts a column from a gviz response. The JSON payload is
// wrapped in a setResponse(...) call that has to be stripped first.
func parseGViz(body string, col int, skipHeader bool) ([]string, error) {
	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("unexpected gviz response")
	}
	payload := body[start : end+1]
	if !gjson.Valid(payload) {
		return nil, fmt.Errorf("invalid gviz json")
	}

	if status := gjson.Get(payload, "status").String(); status == "error" {
		msg := gjson.Get(payload, "errors.0.detailed_message").String()
		if msg == "" {
			msg = gjson.Get(payload, "errors.0.message").String()
		}
		return nil, fmt.Errorf("gviz query failed: %s", msg)
	}

	var cells []string
	for _, row := range gjson.Get(payload, "table.rows").Array() {
		values := row.Get("c").Array()
		if col >= len(values) || values[col].Type == gjson.Null {
			cells = append(cells, "")
			continue
		}
		cell := values[col]
		if f := cell.Get("f"); f.Exists() {
			cells = append(cells, f.String())
			continue
		}
		cells = append(cells, cell.Get("v").String())
	}
	return skipFirst(cells, skipHeader), nil
}

// HTMLSource reads one column of a sheet published to the web.
type HTMLSource struct {
	SheetID    string
	GID        string
	Column     int // 0-based
	SkipHeader bool
	BaseURL    string
	Client     *retryablehttp.Client
}

func (s *HTMLSource) Name() string { return "pubhtml:" + s.SheetID }

func (s *HTMLSource) endpoint() string {
	base := s.BaseURL
	if base == "" {
		base = GOOGLE_DOCS_BASE
	}
	q := url.Values{}
	q.Set("single", "true")
	q.Set("widget", "false")
	if s.GID != "" {
		q.Set("gid", s.GID)
	}
	return strings.TrimRight(base, "/") + "/spreadsheets/d/" + url.PathEscape(s.SheetID) + "/pubhtml?" + q.Encode()
}

func (s *HTMLSource) Fetch(ctx context.Context) ([]string, error) {
	res, err := whttp.SendHTTPRequest(ctx, &whttp.WHTTPReq{Method: http.MethodGet, URL: s.endpoint()}, s.Client)
	if err != nil {
		return nil, fmt.Errorf("fetch published sheet: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("published sheet returned status %d", res.StatusCode)
	}
	if isSignInPage(res.HTTPTitle) {
		return nil, fmt.Errorf("%q: %w", res.HTTPTitle, ErrNotPublic)
	}
	return parsePubHTML(res.BodyString, s.Column, s.SkipHeader)
}

// parsePubHTML walks the waffle table. Each row starts with a <th> row
// number, so td cells line up with spreadsheet columns.
func parsePubHTML(body string, col int, skipHeader bool) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	table := doc.Find("table.waffle").First()
	if table.Length() == 0 {
		return nil, fmt.Errorf("no sheet table found in published page")
	}

	var cells []string
	table.Find("tbody tr").Each(func(_ int, row *goquery.Selection) {
		td := row.Find("td")
		if td.Length() == 0 {
			return
		}
		cells = append(cells, strings.TrimSpace(td.Eq(col).Text()))
	})
	return skipFirst(cells, skipHeader), nil
}

func checkSheetResponse(res *whttp.WHTTPRes) error {
	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return fmt.Errorf("status %d: %w", res.StatusCode, ErrNotPublic)
	case res.StatusCode != http.StatusOK:
		return fmt.Errorf("sheet returned status %d", res.StatusCode)
	case res.IsHTML():
		// gviz answers JSON; an HTML page here is Google's sign-in wall.
		return fmt.Errorf("%q: %w", res.HTTPTitle, ErrNotPublic)
	}
	return nil
}

func isSignInPage(title string) bool {
	t := strings.ToLower(title)
	return strings.Contains(t, "sign in") || strings.Contains(t, "로그인")
}
