package tracelens

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"
)

// Dataset is a handle to a named dataset on the backend.
type Dataset struct {
	client *Client

	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// DatasetItem is one example in a dataset.
type DatasetItem struct {
	ID             string         `json:"id,omitempty"`
	Input          any            `json:"input,omitempty"`
	ExpectedOutput any            `json:"expectedOutput,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`

	// TraceID and SpanID link an item back to the production call it was
	// sampled from.
	TraceID string `json:"traceId,omitempty"`
	SpanID  string `json:"spanId,omitempty"`
}

type createDatasetRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type insertItemsRequest struct {
	Items []DatasetItem `json:"items"`
}

// CreateDataset creates a dataset and returns a handle to it.
func (c *Client) CreateDataset(ctx context.Context, name, description string) (*Dataset, error) {
	var dataset Dataset
	req := createDatasetRequest{Name: name, Description: description}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/datasets", nil, req, &dataset); err != nil {
		return nil, fmt.Errorf("tracelens: creating dataset %q: %w", name, err)
	}
	dataset.client = c
	return &dataset, nil
}

// GetDataset fetches an existing dataset by name. Returns ErrNotFound when
// no dataset has that name.
func (c *Client) GetDataset(ctx context.Context, name string) (*Dataset, error) {
	query := url.Values{}
	query.Set("name", name)

	var dataset Dataset
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/datasets", query, nil, &dataset); err != nil {
		return nil, err
	}
	dataset.client = c
	return &dataset, nil
}

// Insert adds items to the dataset in a single batched call. Items without
// an ID are assigned one, so a retried insert stays idempotent.
func (d *Dataset) Insert(ctx context.Context, items []DatasetItem) error {
	if len(items) == 0 {
		return nil
	}

	for i := range items {
		if items[i].ID == "" {
			items[i].ID = uuid.New().String()
		}
	}

	path := "/api/v1/datasets/" + d.ID + "/items"
	if err := d.client.doJSON(ctx, http.MethodPost, path, nil, insertItemsRequest{Items: items}, nil); err != nil {
		return fmt.Errorf("tracelens: inserting %d items into dataset %q: %w", len(items), d.Name, err)
	}
	return nil
}
