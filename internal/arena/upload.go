package arena

import (
	"context"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/arenabridge/agent/internal/shared/faults"
)

// StepResult is the raw outcome of one upload boundary call. Parsing is the
// pipeline's job; the client only moves bytes.
type StepResult struct {
	Body   string
	Status int
	// Action carries a rotated action token when the upstream exposes one on
	// the response, for passive cache refresh.
	Action string
}

// actionHeader is where the upstream echoes rotated action identifiers.
const actionHeader = "X-Action-Id"

// Sign asks the upstream to issue an upload destination for one file.
// The action token rides the invocation header.
func (c *Client) Sign(ctx context.Context, action, fileName, contentType string, size int) (*StepResult, error) {
	body, err := sonic.Marshal([]interface{}{fileName, contentType, size})
	if err != nil {
		return nil, faults.WrapStep(faults.UploadStepFailed, "sign", err)
	}
	return c.invokeAction(ctx, "sign", c.cfg.SignPath, action, body)
}

// Notify reports a completed transfer and asks for the final reference.
func (c *Client) Notify(ctx context.Context, action, key string) (*StepResult, error) {
	body, err := sonic.Marshal([]interface{}{key})
	if err != nil {
		return nil, faults.WrapStep(faults.UploadStepFailed, "notify", err)
	}
	return c.invokeAction(ctx, "notify", c.cfg.NotifyPath, action, body)
}

// Transfer streams raw file bytes to the signed destination. The destination
// is an absolute URL outside the target origin, so the request carries no
// session identity beyond what the signature encodes.
func (c *Client) Transfer(ctx context.Context, uploadURL string, data []byte, contentType string) (int, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	if err := c.Limiter.Wait(ctx); err != nil {
		return 0, faults.WrapStep(faults.NetworkFailure, "transfer", err)
	}

	c.mu.RLock()
	req := c.Resty.R().
		SetContext(ctx).
		SetHeader("Content-Type", contentType).
		SetBody(data)
	c.mu.RUnlock()

	resp, err := c.ExecuteWithBreaker(func() (*resty.Response, error) {
		return req.Put(uploadURL)
	})
	if err != nil {
		return 0, faults.WrapStep(faults.NetworkFailure, "transfer", err)
	}

	c.log.Debug("transferred file bytes",
		zap.Int("size", len(data)),
		zap.Int("status", resp.StatusCode()))
	return resp.StatusCode(), nil
}

// invokeAction posts an action invocation: argument array body, token header.
func (c *Client) invokeAction(ctx context.Context, step, path, action string, body []byte) (*StepResult, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	req, err := c.Request(ctx)
	if err != nil {
		return nil, faults.WrapStep(faults.NetworkFailure, step, err)
	}

	resp, err := c.ExecuteWithBreaker(func() (*resty.Response, error) {
		return req.
			SetHeader("Content-Type", "text/plain;charset=UTF-8").
			SetHeader("Next-Action", action).
			SetBody(body).
			Post(path)
	})
	if err != nil {
		return nil, faults.WrapStep(faults.NetworkFailure, step, err)
	}

	return &StepResult{
		Body:   string(resp.Body()),
		Status: resp.StatusCode(),
		Action: resp.Header().Get(actionHeader),
	}, nil
}
