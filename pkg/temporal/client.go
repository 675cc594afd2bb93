package temporal

import (
	"context"
	"fmt"
	"time"

	"github.com/canopy-network/spendq/pkg/utils"
	"go.uber.org/zap"

	"go.temporal.io/api/enums/v1"
	taskqueuepb "go.temporal.io/api/taskqueue/v1"
	workflowservicepb "go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/log"
)

type Client struct {
	TClient   client.Client
	Namespace string

	// RefreshQueue carries RefreshTenantWorkflow and its activity.
	RefreshQueue string

	// RefreshWorkflowID is formatted with the tenant id so concurrent
	// triggers for one tenant collapse into the running workflow.
	RefreshWorkflowID string
}

type Health struct {
	ConnectionOK bool                      `json:"connection_ok"`
	RefreshQueue []*taskqueuepb.PollerInfo `json:"refresh_queue"`
}

// NewClient connects using TEMPORAL_HOSTPORT. Namespace and queue come from
// the engine config.
func NewClient(ctx context.Context, logger *zap.Logger, namespace, queue string) (*Client, error) {
	host := utils.Env("TEMPORAL_HOSTPORT", "localhost:7233")
	ns := utils.Env("TEMPORAL_NAMESPACE", namespace)

	logger.Info("Connecting to Temporal", zap.String("host", host), zap.String("namespace", ns))
	tClient, err := Dial(ctx, host, ns, NewZapAdapter(logger))
	if err != nil {
		return nil, err
	}

	if _, err = tClient.CheckHealth(ctx, nil); err != nil {
		return nil, err
	}

	return &Client{
		TClient:           tClient,
		Namespace:         ns,
		RefreshQueue:      queue,
		RefreshWorkflowID: "refresh:%s",
	}, nil
}

// Dial connects to Temporal using the provided hostPort and namespace.
func Dial(ctx context.Context, hostPort, namespace string, logger log.Logger) (client.Client, error) {
	return client.DialContext(
		ctx,
		client.Options{
			HostPort:  hostPort,
			Namespace: namespace,
			Logger:    logger,
		},
	)
}

// GetRefreshWorkflowID returns the workflow id for a tenant refresh.
func (c *Client) GetRefreshWorkflowID(tenantID string) string {
	return fmt.Sprintf(c.RefreshWorkflowID, tenantID)
}

// StartRefresh starts (or joins) the refresh workflow for a tenant.
func (c *Client) StartRefresh(ctx context.Context, workflowName, tenantID string, input any) (client.WorkflowRun, error) {
	options := client.StartWorkflowOptions{
		ID:        c.GetRefreshWorkflowID(tenantID),
		TaskQueue: c.RefreshQueue,
		// a commit that lands during a rebuild joins it rather than queueing another
		WorkflowIDConflictPolicy: enums.WORKFLOW_ID_CONFLICT_POLICY_USE_EXISTING,
	}
	return c.TClient.ExecuteWorkflow(ctx, options, workflowName, input)
}

// Health returns the health of the Temporal client.
func (c *Client) Health(ctx context.Context) (Health, error) {
	h := Health{ConnectionOK: true}
	ctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	svc := c.TClient.WorkflowService()
	if svc != nil {
		if rep, err := svc.DescribeTaskQueue(ctx, &workflowservicepb.DescribeTaskQueueRequest{
			Namespace:     c.Namespace,
			TaskQueue:     &taskqueuepb.TaskQueue{Name: c.RefreshQueue},
			TaskQueueType: enums.TASK_QUEUE_TYPE_WORKFLOW,
		}); err == nil {
			h.RefreshQueue = rep.GetPollers()
		} else {
			h.ConnectionOK = false
		}
	}
	return h, nil
}

func (c *Client) Close() {
	if c.TClient != nil {
		c.TClient.Close()
	}
}
