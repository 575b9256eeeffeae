// Package issuerdev is a small HTTP client for the issuer card API, used by
// cardctl and in tests.
package issuerdev

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coolbank/cardflow/issuer/models"
	"github.com/google/uuid"
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("issuer status=%d: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

type Client struct {
	Base string
	HTTP *http.Client
}

func New(base string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{Base: strings.TrimRight(base, "/"), HTTP: hc}
}

func (c *Client) Issue(ctx context.Context, accountID uuid.UUID, holderFullName string) (*models.CardView, error) {
	var card models.CardView
	req := models.IssueCard{AccountID: accountID, CardHolderFullName: holderFullName}
	if err := c.do(ctx, http.MethodPost, "/cards", req, &card); err != nil {
		return nil, fmt.Errorf("issuing card: %w", err)
	}
	return &card, nil
}

func (c *Client) IssueForHolder(ctx context.Context, accountID, holderID uuid.UUID) (*models.CardView, error) {
	var card models.CardView
	req := models.IssueCard{AccountID: accountID, CardHolderID: &holderID}
	if err := c.do(ctx, http.MethodPost, "/cards", req, &card); err != nil {
		return nil, fmt.Errorf("issuing card: %w", err)
	}
	return &card, nil
}

func (c *Client) GetByID(ctx context.Context, cardID uuid.UUID) (*models.CardView, error) {
	var card models.CardView
	if err := c.do(ctx, http.MethodGet, "/cards/"+cardID.String(), nil, &card); err != nil {
		return nil, fmt.Errorf("getting card: %w", err)
	}
	return &card, nil
}

func (c *Client) GetByCardNumber(ctx context.Context, number string) (*models.CardView, error) {
	var card models.CardView
	if err := c.do(ctx, http.MethodGet, "/cards/number/"+url.PathEscape(number), nil, &card); err != nil {
		return nil, fmt.Errorf("getting card by number: %w", err)
	}
	return &card, nil
}

func (c *Client) UpdateStatus(ctx context.Context, cardID uuid.UUID, status string) (*models.CardView, error) {
	var card models.CardView
	path := "/cards/" + cardID.String() + "/status"
	if err := c.do(ctx, http.MethodPut, path, models.UpdateStatus{Status: status}, &card); err != nil {
		return nil, fmt.Errorf("updating card status: %w", err)
	}
	return &card, nil
}

func (c *Client) Delete(ctx context.Context, cardID uuid.UUID) error {
	if err := c.do(ctx, http.MethodDelete, "/cards/"+cardID.String(), nil, nil); err != nil {
		return fmt.Errorf("deleting card: %w", err)
	}
	return nil
}

func (c *Client) ListByHolderName(ctx context.Context, fullName string) ([]models.CardView, error) {
	var cards []models.CardView
	path := "/cards?holder_name=" + url.QueryEscape(fullName)
	if err := c.do(ctx, http.MethodGet, path, nil, &cards); err != nil {
		return nil, fmt.Errorf("listing cards: %w", err)
	}
	return cards, nil
}

func (c *Client) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]models.CardView, error) {
	var cards []models.CardView
	if err := c.do(ctx, http.MethodGet, "/accounts/"+accountID.String()+"/cards", nil, &cards); err != nil {
		return nil, fmt.Errorf("listing cards: %w", err)
	}
	return cards, nil
}

// ListByHolder lists a holder's cards. filter is "", "active", "expired" or
// "status/<STATUS>".
func (c *Client) ListByHolder(ctx context.Context, holderID uuid.UUID, filter string) ([]models.CardView, error) {
	var cards []models.CardView
	path := "/holders/" + holderID.String() + "/cards"
	if filter != "" {
		path += "/" + filter
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &cards); err != nil {
		return nil, fmt.Errorf("listing cards: %w", err)
	}
	return cards, nil
}

func (c *Client) DeleteByAccount(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var res models.DeleteResult
	if err := c.do(ctx, http.MethodDelete, "/accounts/"+accountID.String()+"/cards", nil, &res); err != nil {
		return 0, fmt.Errorf("deleting account cards: %w", err)
	}
	return res.Deleted, nil
}

func (c *Client) DeleteByHolder(ctx context.Context, holderID uuid.UUID) (int64, error) {
	var res models.DeleteResult
	if err := c.do(ctx, http.MethodDelete, "/holders/"+holderID.String()+"/cards", nil, &res); err != nil {
		return 0, fmt.Errorf("deleting holder cards: %w", err)
	}
	return res.Deleted, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.Base+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var payload struct {
			Error string `json:"error"`
		}
		b, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(b))
		if json.Unmarshal(b, &payload) == nil && payload.Error != "" {
			msg = payload.Error
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
