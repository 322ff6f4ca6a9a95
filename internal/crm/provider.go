package crm

import (
	"context"

	"github.com/roach88/docmerge/internal/connstr"
	"github.com/roach88/docmerge/internal/fault"
)

// KeyValue is one provider model property.
type KeyValue struct {
	Key   string `json:"Key"`
	Value string `json:"Value"`
}

// DataSetQuery describes the provider model to create.
type DataSetQuery struct {
	Type     string     `json:"Type"`
	KeyValue []KeyValue `json:"KeyValue"`
}

// CreateProviderModel registers a MongoDB provider model for appName on
// dbHost and returns its id.
func (c *Client) CreateProviderModel(ctx context.Context, user, appName, dbHost string) (string, error) {
	c.logger.Info("creating provider model", "user", user, "app", appName, "host", dbHost)
	resp, err := c.SendRequest(ctx, "CreateProviderModel", DataSetQuery{
		Type: "MongoDB",
		KeyValue: []KeyValue{
			{Key: "userId", Value: user},
			{Key: "appName", Value: appName},
			{Key: "mongoDBHostName", Value: dbHost},
		},
	})
	if err != nil {
		return "", err
	}
	if err := Err("CreateProviderModel", resp); err != nil {
		return "", err
	}
	if resp.Status.ModelID == "" {
		return "", fault.Validation("provider model created without an id")
	}
	return resp.Status.ModelID, nil
}

// DataSource is a resolved provider model connection.
type DataSource struct {
	ModelID string
	URL     string
	connstr.Info
}

// ProviderModelURL resolves the data source URL of modelID, appending
// options to it.
func (c *Client) ProviderModelURL(ctx context.Context, modelID string, options map[string]string) (DataSource, error) {
	resp, err := c.SendRequest(ctx, "GetProviderModelUrl", map[string]string{"ProfitModel": modelID})
	if err != nil {
		return DataSource{}, err
	}
	if err := Err("GetProviderModelUrl", resp); err != nil {
		return DataSource{}, err
	}
	info, err := connstr.ParseProviderModelURL(resp.Status.URL)
	if err != nil {
		return DataSource{}, err
	}
	c.logger.Info("resolved provider model", "model", modelID, "host", info.Host, "database", info.Database)
	return DataSource{
		ModelID: modelID,
		URL:     connstr.WithOptions(resp.Status.URL, options),
		Info:    info,
	}, nil
}
