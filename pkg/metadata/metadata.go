// Package metadata looks up catalog details by ISBN against the Open
// Library API. The engine never calls this; the registration flow uses it
// to pre-fill the form before registering a book.
package metadata

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"bibliokeeper/pkg/circuitbreaker"
)

// BookInfo is the subset of catalog fields the lookup can pre-fill.
type BookInfo struct {
	Title    string `json:"title"`
	Author   string `json:"author"`
	Category string `json:"category"`
}

// ErrNotFound means the ISBN resolved to nothing upstream.
var ErrNotFound = fmt.Errorf("no book data found")

type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
}

// NewClient builds a lookup client. baseURL defaults to the public Open
// Library endpoint when empty.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "https://openlibrary.org"
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		breaker:    circuitbreaker.New(5, 30*time.Second),
	}
}

var isbnClean = regexp.MustCompile(`[^0-9Xx]`)

// CleanISBN strips everything but digits and the X check character.
func CleanISBN(isbn string) string {
	return strings.ToUpper(isbnClean.ReplaceAllString(isbn, ""))
}

// Lookup fetches title, author and category for an ISBN. Upstream outages
// trip the circuit breaker, after which calls fail fast until it cools down.
func (c *Client) Lookup(isbn string) (*BookInfo, error) {
	cleaned := CleanISBN(isbn)
	if len(cleaned) < 10 {
		return nil, fmt.Errorf("invalid ISBN %q", isbn)
	}

	var info *BookInfo
	err := c.breaker.Do(func() error {
		fetched, err := c.fetch(cleaned)
		if err != nil {
			return err
		}
		info = fetched
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, ErrNotFound
	}
	return info, nil
}

type apiEntry struct {
	Title   string `json:"title"`
	Authors []struct {
		Name string `json:"name"`
	} `json:"authors"`
	ByStatement string `json:"by_statement"`
	Subjects    []struct {
		Name string `json:"name"`
	} `json:"subjects"`
}

func (c *Client) fetch(isbn string) (*BookInfo, error) {
	url := fmt.Sprintf("%s/api/books?bibkeys=ISBN:%s&jscmd=data&format=json", c.baseURL, isbn)
	request, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("build lookup request: %w", err)
	}
	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("perform lookup request: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lookup responded with status %d", response.StatusCode)
	}
	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("read lookup response: %w", err)
	}

	var payload map[string]apiEntry
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse lookup response: %w", err)
	}

	entry, ok := payload["ISBN:"+isbn]
	if !ok {
		// An empty object is a valid "nothing known" answer, not an outage.
		return nil, nil
	}

	info := BookInfo{Title: entry.Title, Author: entry.ByStatement, Category: "General"}
	if info.Title == "" {
		info.Title = "Unknown Title"
	}
	if len(entry.Authors) > 0 && entry.Authors[0].Name != "" {
		info.Author = entry.Authors[0].Name
	}
	if info.Author == "" {
		info.Author = "Unknown Author"
	}
	if len(entry.Subjects) > 0 && entry.Subjects[0].Name != "" {
		info.Category = entry.Subjects[0].Name
	}
	return &info, nil
}
