package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/doncapon/yemisshop-sub004/pkg/config"
	"github.com/doncapon/yemisshop-sub004/pkg/logger"
)

const pingTimeout = 10 * time.Second

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNoSubscriptions   = errors.New("pubsub subscription name is required")
)

type resourceKind string

const (
	kindTopic        resourceKind = "topics"
	kindSubscription resourceKind = "subscriptions"
)

// resource is a topic or subscription the settlement services depend on.
type resource struct {
	kind resourceKind
	name string
}

func (r resource) String() string {
	return fmt.Sprintf("%s %q", strings.TrimSuffix(string(r.kind), "s"), r.name)
}

// Client wraps the Pub/Sub v2 client with the project's topic and
// subscription names resolved from config.
type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig
}

// NewClient connects to Pub/Sub and fails unless every configured topic and
// subscription exists.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	if strings.TrimSpace(cfg.PaymentsSubscription) == "" {
		return nil, errNoSubscriptions
	}

	psClient, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c := &Client{client: psClient, projectID: projectID, cfg: cfg}
	if err := c.Ping(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "resources", len(configuredResources(cfg))), "pubsub client initialized")
	}
	return c, nil
}

func configuredResources(cfg config.PubSubConfig) []resource {
	candidates := []resource{
		{kind: kindTopic, name: cfg.PaymentsTopic},
		{kind: kindTopic, name: cfg.NotificationTopic},
		{kind: kindTopic, name: cfg.AnalyticsTopic},
		{kind: kindSubscription, name: cfg.PaymentsSubscription},
		{kind: kindSubscription, name: cfg.AnalyticsSubscription},
	}
	out := make([]resource, 0, len(candidates))
	for _, r := range candidates {
		r.name = strings.TrimSpace(r.name)
		if r.name != "" {
			out = append(out, r)
		}
	}
	return out
}

// Ping checks every configured topic and subscription in parallel.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("pubsub client not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range configuredResources(c.cfg) {
		g.Go(func() error { return c.lookup(gctx, r) })
	}
	return g.Wait()
}

func (c *Client) lookup(ctx context.Context, r resource) error {
	fullName := c.resourceName(r.kind, r.name)
	var err error
	switch r.kind {
	case kindTopic:
		_, err = c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: fullName})
	case kindSubscription:
		_, err = c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: fullName})
	}
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("%s does not exist", r)
	default:
		return fmt.Errorf("checking %s: %w", r, err)
	}
}

// Subscription returns a subscriber for a subscription ID or full resource name.
func (c *Client) Subscription(name string) *pubsub.Subscriber {
	fullName := c.resourceName(kindSubscription, name)
	if fullName == "" || c.client == nil {
		return nil
	}
	return c.client.Subscriber(fullName)
}

// PaymentsSubscription feeds the finalization consumer.
func (c *Client) PaymentsSubscription() *pubsub.Subscriber {
	if c == nil {
		return nil
	}
	return c.Subscription(c.cfg.PaymentsSubscription)
}

// AnalyticsSubscription feeds the BigQuery sink. Nil when not configured.
func (c *Client) AnalyticsSubscription() *pubsub.Subscriber {
	if c == nil {
		return nil
	}
	return c.Subscription(c.cfg.AnalyticsSubscription)
}

// Publisher returns a publisher for a topic ID or full resource name.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	fullName := c.resourceName(kindTopic, name)
	if fullName == "" || c.client == nil {
		return nil
	}
	return c.client.Publisher(fullName)
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// resourceName expands a short ID into projects/<project>/<kind>/<id>. Names
// that are already fully qualified for kind pass through.
func (c *Client) resourceName(kind resourceKind, name string) string {
	if c == nil {
		return ""
	}
	id := strings.TrimSpace(name)
	if id == "" {
		return ""
	}
	if strings.HasPrefix(id, "projects/") && strings.Contains(id, "/"+string(kind)+"/") {
		return id
	}
	if c.projectID == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/%s/%s", c.projectID, kind, id)
}
