// Package rednote talks to the platform: paced signed HTTP, endpoint
// wrappers and the raw payload shapes they return. Normalization of those
// payloads into domain entities lives in pkg/normalize.
package rednote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	errs "github.com/baohengtao/redbook/pkg/errors"
	"github.com/baohengtao/redbook/pkg/logger"
)

// Me is the authenticated identity returned by the session check
type Me struct {
	UserID   string `json:"user_id"`
	Nickname string `json:"nickname"`
	Guest    bool   `json:"guest"`
}

// Listing is one page of a user's posted notes, newest first
type Listing struct {
	Cursor  string                   `json:"cursor"`
	HasMore bool                     `json:"has_more"`
	Notes   []map[string]interface{} `json:"notes"`
}

// Client wraps the gateway with typed endpoint calls
type Client struct {
	gateway *Gateway
	logger  logger.Logger
}

// NewClient creates a Client on top of a gateway
func NewClient(gw *Gateway, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Client{gateway: gw, logger: log}
}

// Gateway exposes the underlying gateway
func (c *Client) Gateway() *Gateway {
	return c.gateway
}

// Me verifies the stored session is still logged in and returns the
// authenticated identity. A guest identity means the session expired.
func (c *Client) Me(ctx context.Context) (*Me, error) {
	data, err := c.gateway.GetJSON(ctx, APIMe)
	if err != nil {
		return nil, err
	}

	var me Me
	if err := json.Unmarshal(data, &me); err != nil {
		return nil, &errs.Error{
			Type:    errs.ErrorTypeParsing,
			Message: fmt.Sprintf("malformed identity payload: %v", err),
		}
	}
	if me.Guest || me.UserID == "" {
		return nil, &errs.Error{
			Type:    errs.ErrorTypeAuth,
			Message: "session is no longer logged in",
		}
	}
	return &me, nil
}

// UserPosted fetches one page of a user's note listing. cursor is empty for
// the first page; pass the returned cursor to continue.
func (c *Client) UserPosted(ctx context.Context, userID, cursor string, pageSize int) (*Listing, error) {
	if !ValidUserID(userID) {
		return nil, fmt.Errorf("invalid user id: %q", userID)
	}

	data, err := c.gateway.GetJSON(ctx, UserPostedPath(userID, cursor, pageSize))
	if err != nil {
		return nil, err
	}

	var listing Listing
	if err := json.Unmarshal(data, &listing); err != nil {
		return nil, &errs.Error{
			Type:    errs.ErrorTypeParsing,
			Message: fmt.Sprintf("malformed listing payload for user %s: %v", userID, err),
		}
	}
	return &listing, nil
}

// Feed fetches the full detail payload of one note and returns its note
// card. xsecToken is the capability token from the listing that surfaced
// the note. The wrapper item is checked strictly so shape changes surface
// as drift instead of silent data loss.
func (c *Client) Feed(ctx context.Context, noteID, xsecToken string) (map[string]interface{}, error) {
	data, err := c.gateway.PostJSON(ctx, APIFeed, newFeedRequest(noteID, xsecToken))
	if err != nil {
		return nil, err
	}

	var payload struct {
		Items []map[string]interface{} `json:"items"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, &errs.Error{
			Type:    errs.ErrorTypeParsing,
			Message: fmt.Sprintf("malformed feed payload for note %s: %v", noteID, err),
		}
	}

	noteURL := NoteURL(noteID)
	if len(payload.Items) != 1 {
		return nil, &errs.SchemaDriftError{
			URL:    noteURL,
			Detail: fmt.Sprintf("expected exactly one feed item, got %d", len(payload.Items)),
		}
	}

	item := payload.Items[0]
	card, ok := item["note_card"].(map[string]interface{})
	if !ok {
		return nil, &errs.SchemaDriftError{
			URL:    noteURL,
			Key:    "note_card",
			Detail: "feed item has no note card",
		}
	}
	if id, _ := item["id"].(string); id != noteID {
		return nil, &errs.SchemaDriftError{
			URL:    noteURL,
			Key:    "id",
			Detail: fmt.Sprintf("feed item id %q does not match requested note", id),
		}
	}
	if mt, _ := item["model_type"].(string); mt != "note" {
		return nil, &errs.SchemaDriftError{
			URL:    noteURL,
			Key:    "model_type",
			Detail: fmt.Sprintf("unexpected model type %q", mt),
		}
	}
	for key := range item {
		switch key {
		case "id", "model_type", "note_card", "xsec_token":
		default:
			return nil, &errs.SchemaDriftError{
				URL:    noteURL,
				Key:    key,
				Detail: "unexpected key on feed item",
			}
		}
	}

	if token, _ := item["xsec_token"].(string); token != "" {
		card["xsec_token"] = token
	}
	return card, nil
}

// ShortLink generates a share link for a note
func (c *Client) ShortLink(ctx context.Context, noteID string) (string, error) {
	data, err := c.gateway.PostJSON(ctx, APIShortURL, shortURLRequest{
		OriginalURL: NoteURL(noteID),
	})
	if err != nil {
		return "", err
	}

	var payload struct {
		ShortURL string `json:"short_url"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", &errs.Error{
			Type:    errs.ErrorTypeParsing,
			Message: fmt.Sprintf("malformed short link payload for note %s: %v", noteID, err),
		}
	}
	if payload.ShortURL == "" {
		return "", &errs.SchemaDriftError{
			URL:    NoteURL(noteID),
			Key:    "short_url",
			Detail: "share link response carries no URL",
		}
	}
	return payload.ShortURL, nil
}

// initialStateMarker prefixes the embedded state blob on profile pages
const initialStateMarker = "window.__INITIAL_STATE__="

// UserPageData fetches a user's public profile page and extracts the
// userPageData block from the embedded initial state.
func (c *Client) UserPageData(ctx context.Context, userID string) (map[string]interface{}, error) {
	if !ValidUserID(userID) {
		return nil, fmt.Errorf("invalid user id: %q", userID)
	}

	pageURL := ProfileURL(userID)
	html, err := c.gateway.FetchPage(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	state, err := extractInitialState(html)
	if err != nil {
		return nil, &errs.SchemaDriftError{
			URL:    pageURL,
			Detail: err.Error(),
		}
	}

	user, ok := state["user"].(map[string]interface{})
	if !ok {
		return nil, &errs.SchemaDriftError{
			URL:    pageURL,
			Key:    "user",
			Detail: "initial state has no user block",
		}
	}
	pageData, ok := user["userPageData"].(map[string]interface{})
	if !ok {
		return nil, &errs.SchemaDriftError{
			URL:    pageURL,
			Key:    "userPageData",
			Detail: "user block has no page data",
		}
	}
	return pageData, nil
}

// extractInitialState pulls the initial state JSON out of profile page HTML.
// The blob is raw JavaScript, so bare undefined values are rewritten to null
// before decoding.
func extractInitialState(html []byte) (map[string]interface{}, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse profile page: %w", err)
	}

	var blob string
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		if strings.HasPrefix(text, initialStateMarker) {
			blob = strings.TrimPrefix(text, initialStateMarker)
			return false
		}
		return true
	})
	if blob == "" {
		return nil, fmt.Errorf("profile page has no initial state script")
	}

	blob = strings.TrimSuffix(strings.TrimSpace(blob), ";")
	blob = strings.ReplaceAll(blob, "undefined", "null")

	var state map[string]interface{}
	if err := json.Unmarshal([]byte(blob), &state); err != nil {
		return nil, fmt.Errorf("failed to decode initial state: %w", err)
	}
	return state, nil
}
