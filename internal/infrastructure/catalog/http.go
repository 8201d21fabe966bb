package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"mealsub-backend/internal/domain"
)

// HTTPCatalog reads the active menu from the menu service:
// GET {base}/menus/{yyyy-mm-dd} -> {"items":[{"id","name","price"}]}.
// A 404 means no menu was published for the date.
type HTTPCatalog struct {
	BaseURL string
	HTTP    *http.Client
}

func NewHTTPCatalog(baseURL string) *HTTPCatalog {
	return &HTTPCatalog{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 5 * time.Second},
	}
}

type menuResponse struct {
	Items []domain.MenuItem `json:"items"`
}

func (c *HTTPCatalog) ActiveMenu(ctx context.Context, day domain.Date) (map[string]domain.MenuItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/menus/"+day.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("menu service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return map[string]domain.MenuItem{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("menu service: unexpected status %d", resp.StatusCode)
	}
	var out menuResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode menu: %w", err)
	}
	m := make(map[string]domain.MenuItem, len(out.Items))
	for _, it := range out.Items {
		m[it.ID] = it
	}
	return m, nil
}
