// internal/common/zoho/crm.go
package zoho

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	commonhttp "enrollment-sync/internal/common/http"
)

const DefaultBaseURL = "https://www.zohoapis.com/crm/v3"

var ErrContactRejected = errors.New("contact rejected by crm")

// CRMClient records enrolling guardians as CRM contacts.
type CRMClient struct {
	oauthToken string
	baseURL    string
	httpClient *commonhttp.Client
}

// Contact is a guardian as stored in the CRM Contacts module.
type Contact struct {
	ID            string `json:"id,omitempty"`
	Email         string `json:"Email"`
	FirstName     string `json:"First_Name,omitempty"`
	LastName      string `json:"Last_Name"`
	Phone         string `json:"Phone,omitempty"`
	Source        string `json:"Lead_Source,omitempty"`
	ApplicationID string `json:"Application_ID,omitempty"`
	Description   string `json:"Description,omitempty"`
}

type writeResponse struct {
	Data []struct {
		Code    string `json:"code"`
		Details struct {
			ID string `json:"id"`
		} `json:"details"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"data"`
}

func NewCRMClient(baseURL, oauthToken string, timeout time.Duration) *CRMClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &CRMClient{
		oauthToken: oauthToken,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: commonhttp.NewClient(timeout),
	}
}

// NewCRMClientWith uses an existing HTTP client.
func NewCRMClientWith(baseURL, oauthToken string, hc *commonhttp.Client) *CRMClient {
	return &CRMClient{
		oauthToken: oauthToken,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: hc,
	}
}

// RecordContact creates the contact, or updates the one already registered
// under the same email. It returns the CRM id.
func (c *CRMClient) RecordContact(ctx context.Context, contact Contact) (string, error) {
	if contact.Email != "" {
		existing, err := c.SearchContacts(ctx, contact.Email)
		if err != nil {
			return "", err
		}
		if len(existing) > 0 {
			id := existing[0].ID
			if err := c.UpdateContact(ctx, id, contact); err != nil {
				return "", err
			}
			return id, nil
		}
	}
	return c.CreateContact(ctx, contact)
}

func (c *CRMClient) CreateContact(ctx context.Context, contact Contact) (string, error) {
	resp, err := c.write(ctx, http.MethodPost, c.baseURL+"/Contacts", contact)
	if err != nil {
		return "", err
	}
	return resp.Data[0].Details.ID, nil
}

func (c *CRMClient) UpdateContact(ctx context.Context, contactID string, contact Contact) error {
	contact.ID = ""
	_, err := c.write(ctx, http.MethodPut, fmt.Sprintf("%s/Contacts/%s", c.baseURL, url.PathEscape(contactID)), contact)
	return err
}

// SearchContacts finds contacts by email. No match is an empty slice.
func (c *CRMClient) SearchContacts(ctx context.Context, email string) ([]Contact, error) {
	endpoint := fmt.Sprintf("%s/Contacts/search?email=%s", c.baseURL, url.QueryEscape(email))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to search contacts (status %d): %s", resp.StatusCode, commonhttp.ReadErrorBody(resp))
	}

	var result struct {
		Data []Contact `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return result.Data, nil
}

func (c *CRMClient) write(ctx context.Context, method, endpoint string, contact Contact) (*writeResponse, error) {
	body, err := json.Marshal(map[string]interface{}{"data": []Contact{contact}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal contact: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("contact write failed (status %d): %s", resp.StatusCode, commonhttp.ReadErrorBody(resp))
	}

	var out writeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrContactRejected)
	}
	if out.Data[0].Status != "success" {
		return nil, fmt.Errorf("%w: %s", ErrContactRejected, out.Data[0].Message)
	}
	return &out, nil
}

func (c *CRMClient) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Zoho-oauthtoken "+c.oauthToken)
}
