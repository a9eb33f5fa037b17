package connector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Response is the outcome of one successful request. Data holds the parsed
// JSON body when the server declared a JSON content type, otherwise the raw
// body as a string.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Data       any
}

// RequestOption customises a single request made through the connector.
type RequestOption func(*requestOptions)

type requestOptions struct {
	params     map[string]string
	body       any
	headers    map[string]string
	timeout    time.Duration
	maxRetries *int
}

// WithQueryParam adds one query-string parameter.
func WithQueryParam(key, value string) RequestOption {
	return func(o *requestOptions) {
		if o.params == nil {
			o.params = map[string]string{}
		}
		o.params[key] = value
	}
}

// WithQueryParams adds a set of query-string parameters.
func WithQueryParams(params map[string]string) RequestOption {
	return func(o *requestOptions) {
		if o.params == nil {
			o.params = map[string]string{}
		}
		for k, v := range params {
			o.params[k] = v
		}
	}
}

// WithBody sets the request body. Values are JSON-encoded unless a string
// or []byte is given.
func WithBody(body any) RequestOption {
	return func(o *requestOptions) { o.body = body }
}

// WithHeader sets one request header, overriding the connector default of
// the same name.
func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) {
		if o.headers == nil {
			o.headers = map[string]string{}
		}
		o.headers[key] = value
	}
}

// WithRequestTimeout overrides the per-attempt timeout for this request.
func WithRequestTimeout(d time.Duration) RequestOption {
	return func(o *requestOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithMaxRetries overrides the retry budget for this request.
func WithMaxRetries(n int) RequestOption {
	return func(o *requestOptions) {
		if n >= 0 {
			o.maxRetries = &n
		}
	}
}

// httpClient executes requests over a pooled transport with per-attempt
// timeout, retry with exponential backoff, and response classification.
type httpClient struct {
	rc          *resty.Client
	baseURL     string
	timeout     time.Duration
	maxRetries  int
	retryDelay  time.Duration
	retryPolicy func(*resty.Response, error) bool
	retryCodes  map[int]bool
	logger      RequestLogger

	// onResponse fires once per completed HTTP response, regardless of
	// status, and never on transport failures.
	onResponse func(http.Header)

	sleep func(ctx context.Context, d time.Duration) error
}

func newHTTPClient(cfg Config, o *Options) *httpClient {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   cfg.Connection.PoolConnections,
		MaxConnsPerHost:       cfg.Connection.PoolMaxSize,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	rc := resty.New().
		SetTransport(transport).
		SetHeaders(o.requestHeaders).
		SetHeaders(cfg.API.DefaultHeaders)

	return &httpClient{
		rc:          rc,
		baseURL:     strings.TrimRight(cfg.API.BaseURL, "/"),
		timeout:     cfg.Connection.Timeout,
		maxRetries:  cfg.Connection.MaxRetries,
		retryDelay:  cfg.Connection.RetryDelay,
		retryPolicy: o.retryPolicy,
		retryCodes:  o.retryStatusCodes,
		logger:      o.requestLogger,
		sleep:       sleepContext,
	}
}

// close releases idle pooled connections.
func (c *httpClient) close() {
	c.rc.GetClient().CloseIdleConnections()
}

// resolveURL returns path unchanged when it already carries a scheme,
// otherwise joins it to the base URL, tolerating a missing or doubled
// leading slash.
func (c *httpClient) resolveURL(path string) string {
	if strings.Contains(path, "://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

// execute runs the retry loop for one logical request.
func (c *httpClient) execute(ctx context.Context, method, path string, ro requestOptions) (*Response, error) {
	url := c.resolveURL(path)

	timeout := c.timeout
	if ro.timeout > 0 {
		timeout = ro.timeout
	}
	maxRetries := c.maxRetries
	if ro.maxRetries != nil {
		maxRetries = *ro.maxRetries
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		start := time.Now()
		resp, err := c.attempt(ctx, method, url, ro, timeout)
		elapsed := time.Since(start)

		if err != nil {
			if ctx.Err() != nil {
				return nil, &ConnectionError{Retryable: false, Attempts: attempt + 1, Cause: ctx.Err()}
			}

			// A per-attempt deadline is a transient timeout as long as the
			// caller's context is still live.
			retryable := errors.Is(err, context.DeadlineExceeded) || c.retryPolicy(resp, err)
			c.logger.Warnf("%s %s attempt %d/%d failed after %v: %v", method, url, attempt+1, maxRetries+1, elapsed, err)

			if !retryable {
				return nil, &ConnectionError{Retryable: false, Attempts: attempt + 1, Cause: err}
			}
			lastErr = err
			if attempt < maxRetries {
				if serr := c.sleep(ctx, c.backoff(attempt)); serr != nil {
					return nil, &ConnectionError{Retryable: false, Attempts: attempt + 1, Cause: serr}
				}
				continue
			}
			return nil, &ConnectionError{Retryable: false, Attempts: attempt + 1, Cause: lastErr}
		}

		if c.onResponse != nil {
			c.onResponse(resp.Header())
		}

		if resp.StatusCode() >= 400 {
			typed := c.classify(resp, path)
			c.logger.Warnf("%s %s attempt %d/%d returned %d after %v", method, url, attempt+1, maxRetries+1, resp.StatusCode(), elapsed)

			if IsRetryable(typed) && attempt < maxRetries {
				delay := c.backoff(attempt)
				if rle := GetRateLimitError(typed); rle != nil && rle.RetryAfter > 0 {
					// The server named its price; pay exactly that.
					delay = rle.RetryAfter
				}
				if serr := c.sleep(ctx, delay); serr != nil {
					return nil, &ConnectionError{Retryable: false, Attempts: attempt + 1, Cause: serr}
				}
				continue
			}
			return nil, typed
		}

		c.logger.Debugf("%s %s attempt %d/%d succeeded with %d after %v", method, url, attempt+1, maxRetries+1, resp.StatusCode(), elapsed)
		return buildResponse(resp), nil
	}

	return nil, &ConnectionError{Retryable: false, Attempts: maxRetries + 1, Cause: lastErr}
}

func (c *httpClient) attempt(ctx context.Context, method, url string, ro requestOptions, timeout time.Duration) (*resty.Response, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := c.rc.R().SetContext(actx)
	if len(ro.params) > 0 {
		req.SetQueryParams(ro.params)
	}
	if len(ro.headers) > 0 {
		req.SetHeaders(ro.headers)
	}
	if ro.body != nil {
		req.SetBody(ro.body)
	}

	return req.Execute(method, url)
}

// backoff is retryDelay doubled per attempt: delay, 2*delay, 4*delay, …
func (c *httpClient) backoff(attempt int) time.Duration {
	return c.retryDelay * (1 << attempt)
}

// classify maps an error response to the typed taxonomy.
func (c *httpClient) classify(resp *resty.Response, path string) error {
	status := resp.StatusCode()
	body := resp.Body()

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &AuthenticationError{StatusCode: status, Reason: extractErrorMessage(body)}
	case http.StatusNotFound:
		return &ResourceNotFoundError{Path: path}
	case http.StatusUnprocessableEntity:
		return &ValidationError{Errors: extractValidationErrors(body)}
	case http.StatusTooManyRequests:
		retryAfter, _ := parseRetryAfter(resp.Header().Get("Retry-After"), time.Now())
		return &RateLimitError{StatusCode: status, RetryAfter: retryAfter, Reason: "server returned 429"}
	default:
		return &APIError{StatusCode: status, Retriable: c.retryCodes[status], Body: extractErrorMessage(body)}
	}
}

// extractErrorMessage pulls the "error" field out of a JSON error body,
// falling back to the raw body.
func extractErrorMessage(body []byte) string {
	if len(body) == 0 {
		return "(empty error body)"
	}

	var parsed struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		return parsed.Error
	}

	return string(body)
}

// extractValidationErrors pulls an "errors" list out of a 422 body,
// falling back to the single error message.
func extractValidationErrors(body []byte) []string {
	var parsed struct {
		Errors []string `json:"errors"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && len(parsed.Errors) > 0 {
		return parsed.Errors
	}
	return []string{extractErrorMessage(body)}
}

func buildResponse(resp *resty.Response) *Response {
	body := resp.Body()
	out := &Response{
		StatusCode: resp.StatusCode(),
		Headers:    resp.Header(),
		Body:       body,
	}

	contentType := resp.Header().Get("Content-Type")
	if strings.Contains(strings.ToLower(contentType), "json") && len(body) > 0 {
		var data any
		if err := json.Unmarshal(body, &data); err == nil {
			out.Data = data
			return out
		}
	}

	out.Data = string(body)
	return out
}
