package arena

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/arenabridge/agent/internal/shared/faults"
	"github.com/arenabridge/agent/internal/shared/types"
)

// Stream is one in-flight dispatch: the response body read line by line.
// Each line is one partial-result unit, forwarded verbatim.
type Stream struct {
	resp   *resty.Response
	reader *bufio.Reader
}

// StatusCode returns the dispatch response status.
func (s *Stream) StatusCode() int {
	return s.resp.StatusCode()
}

// Next returns the next unit. io.EOF signals a cleanly finished stream.
func (s *Stream) Next() (string, error) {
	line, err := s.reader.ReadString('\n')
	line = strings.TrimRight(line, "\r\n")
	if err != nil {
		if err == io.EOF && line != "" {
			// Final unit without trailing newline still counts.
			return line, nil
		}
		return "", err
	}
	return line, nil
}

// ReadAll drains the remaining body, bounded, for classification of
// non-streaming responses (block pages arrive as whole documents).
func (s *Stream) ReadAll() string {
	const maxSample = 256 * 1024
	data, _ := io.ReadAll(io.LimitReader(s.reader, maxSample))
	return string(data)
}

// Close releases the underlying connection.
func (s *Stream) Close() error {
	body := s.resp.RawBody()
	if body == nil {
		return nil
	}
	return body.Close()
}

// StreamChat performs the single outbound dispatch for a logical request and
// hands back the live stream. Retry-kind requests go to the session-retry
// route; everything else creates a fresh evaluation. The call is never
// retried at this layer.
func (c *Client) StreamChat(ctx context.Context, kind types.RequestKind, payload json.RawMessage) (*Stream, error) {
	path := c.cfg.StreamPath
	if kind == types.KindRetry {
		path = c.cfg.RetryPath
	}

	if err := c.Limiter.Wait(ctx); err != nil {
		return nil, faults.Wrap(faults.NetworkFailure, err)
	}

	c.mu.RLock()
	req := c.Resty.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetHeader("Content-Type", "text/plain;charset=UTF-8").
		SetHeader("Accept", "*/*").
		SetBody([]byte(payload))
	c.mu.RUnlock()

	resp, err := c.ExecuteWithBreaker(func() (*resty.Response, error) {
		return req.Post(path)
	})
	if err != nil {
		return nil, faults.Wrap(faults.NetworkFailure, err)
	}

	c.log.Debug("dispatched",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode()))

	return &Stream{
		resp:   resp,
		reader: bufio.NewReader(resp.RawBody()),
	}, nil
}
