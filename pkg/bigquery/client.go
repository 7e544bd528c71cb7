package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/doncapon/yemisshop-sub004/pkg/config"
	"github.com/doncapon/yemisshop-sub004/pkg/logger"
)

const metadataTimeout = 10 * time.Second

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errDatasetRequired   = errors.New("bigquery dataset is required")
	errTableRequired     = errors.New("bigquery table name is required")
	errNotInitialized    = errors.New("bigquery client not initialized")
)

// Tables names the analytics tables inside the dataset.
type Tables struct {
	Profit        string
	PaymentEvents string
}

func (t Tables) names() []string {
	var out []string
	for _, name := range []string{t.Profit, t.PaymentEvents} {
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

// Client streams rows into the analytics dataset. Tables are provisioned
// outside the service; the client only checks that they exist.
type Client struct {
	client  *bigquery.Client
	dataset *bigquery.Dataset
	tables  Tables
}

func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.BigQueryConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	datasetID := strings.TrimSpace(cfg.Dataset)
	if datasetID == "" {
		return nil, errDatasetRequired
	}
	tables := tablesFromConfig(cfg)
	if len(tables.names()) == 0 {
		return nil, errTableRequired
	}

	bq, err := bigquery.NewClient(ctx, projectID, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}
	c := &Client{client: bq, dataset: bq.Dataset(datasetID), tables: tables}
	if err := c.Ping(ctx); err != nil {
		_ = bq.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"dataset": datasetID,
			"tables":  strings.Join(tables.names(), ","),
		}), "bigquery client initialized")
	}
	return c, nil
}

func tablesFromConfig(cfg config.BigQueryConfig) Tables {
	return Tables{
		Profit:        strings.TrimSpace(cfg.ProfitTable),
		PaymentEvents: strings.TrimSpace(cfg.PaymentEventsTable),
	}
}

// clientOptions prefers inline credentials over a key file; with neither the
// SDK falls back to application default credentials.
func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	switch {
	case strings.TrimSpace(gcp.CredentialsJSON) != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(gcp.CredentialsJSON))}
	case strings.TrimSpace(gcp.ApplicationCredentials) != "":
		return []option.ClientOption{option.WithCredentialsFile(gcp.ApplicationCredentials)}
	}
	return nil
}

// Ping checks the dataset and every configured table concurrently.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.dataset == nil {
		return errNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := c.dataset.Metadata(gctx)
		return describe("dataset", c.dataset.DatasetID, err)
	})
	for _, name := range c.tables.names() {
		g.Go(func() error {
			_, err := c.dataset.Table(name).Metadata(gctx)
			return describe("table", name, err)
		})
	}
	return g.Wait()
}

func describe(kind, name string, err error) error {
	switch {
	case err == nil:
		return nil
	case isNotFound(err):
		return fmt.Errorf("%s %q does not exist", kind, name)
	}
	return fmt.Errorf("checking %s %q: %w", kind, name, err)
}

// InsertRows streams rows into table. Rows implementing ValueSaver or tagged
// structs are both accepted by the inserter.
func (c *Client) InsertRows(ctx context.Context, table string, rows []any) error {
	if c == nil || c.dataset == nil {
		return errNotInitialized
	}
	table = strings.TrimSpace(table)
	if table == "" {
		return errTableRequired
	}
	if len(rows) == 0 {
		return nil
	}
	return c.dataset.Table(table).Inserter().Put(ctx, rows)
}

func (c *Client) Tables() Tables {
	if c == nil {
		return Tables{}
	}
	return c.tables
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}
