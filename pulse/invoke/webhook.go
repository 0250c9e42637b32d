package invoke

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/mise/errors"
	"github.com/teranos/mise/logger"
)

// WebhookType is the target type served by the webhook handler. The target
// key is the URL and the method is the HTTP verb (get or post).
const WebhookType = "webhook"

// Webhook methods
const (
	WebhookGet  = "get"
	WebhookPost = "post"
)

// maxErrorBody bounds how much of a failed response ends up in the
// execution's error message.
const maxErrorBody = 512

// Doer sends HTTP requests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HostLimiter paces requests per destination host.
type HostLimiter struct {
	mu       sync.Mutex
	perHost  map[string]*rate.Limiter
	limit    rate.Limit
	disabled bool
}

// NewHostLimiter allows maxPerMinute requests per host with a burst of one.
// maxPerMinute <= 0 disables pacing.
func NewHostLimiter(maxPerMinute int) *HostLimiter {
	return &HostLimiter{
		perHost:  make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(maxPerMinute) / 60.0),
		disabled: maxPerMinute <= 0,
	}
}

// Wait blocks until a request to host may proceed or ctx is done.
func (l *HostLimiter) Wait(ctx context.Context, host string) error {
	if l == nil || l.disabled {
		return nil
	}
	l.mu.Lock()
	limiter, ok := l.perHost[host]
	if !ok {
		limiter = rate.NewLimiter(l.limit, 1)
		l.perHost[host] = limiter
	}
	l.mu.Unlock()
	return limiter.Wait(ctx)
}

// RegisterWebhooks routes webhook.get and webhook.post through client.
func RegisterWebhooks(r *Registry, client Doer, limiter *HostLimiter, log *zap.SugaredLogger) {
	h := WebhookHandler(client, limiter, log)
	r.Register(WebhookType, WebhookGet, h)
	r.Register(WebhookType, WebhookPost, h)
}

// WebhookHandler calls target.Key. For get, parameters become the query
// string; for post, they are sent as a JSON object. Any non-2xx response
// fails the invocation. limiter may be nil.
func WebhookHandler(client Doer, limiter *HostLimiter, log *zap.SugaredLogger) HandlerFunc {
	log = logger.Or(log)
	return func(ctx context.Context, target Target) error {
		req, err := newWebhookRequest(ctx, target)
		if err != nil {
			return err
		}
		if err := limiter.Wait(ctx, req.URL.Host); err != nil {
			return errors.Wrapf(err, "webhook %s not sent", target.Key)
		}

		resp, err := client.Do(req)
		if err != nil {
			return errors.Wrapf(err, "webhook %s failed", target.Key)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return errors.WithDetailf(
				errors.Newf("webhook %s returned %d", target.Key, resp.StatusCode),
				"body: %s", body)
		}
		_, _ = io.Copy(io.Discard, resp.Body)

		log.Debugw("Webhook delivered",
			logger.FieldTarget, target.Key,
			logger.FieldMethod, target.Method,
			logger.FieldStatus, resp.StatusCode)
		return nil
	}
}

func newWebhookRequest(ctx context.Context, target Target) (*http.Request, error) {
	if target.Key == "" {
		return nil, errors.NewInvalidRequestError("webhook target has no URL")
	}

	switch target.Method {
	case WebhookGet:
		u, err := url.Parse(target.Key)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid webhook URL %q", target.Key)
		}
		q := u.Query()
		for k, v := range target.Parameters {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		return req, errors.Wrap(err, "failed to build webhook request")

	case WebhookPost:
		params := target.Parameters
		if params == nil {
			params = map[string]string{}
		}
		body, err := json.Marshal(params)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode webhook body")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.Key, bytes.NewReader(body))
		if err != nil {
			return nil, errors.Wrap(err, "failed to build webhook request")
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil

	default:
		return nil, errors.NewInvalidRequestError("unsupported webhook method %q", target.Method)
	}
}
