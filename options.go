package connector

import (
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
)

type Option func(*Options)

type Options struct {
	requestLogger    RequestLogger
	retryPolicy      func(*resty.Response, error) bool
	requestHeaders   map[string]string
	retryStatusCodes map[int]bool
}

func newConnectorOptions() *Options {
	return &Options{
		requestLogger: &NoopLogger{},
		retryPolicy:   DefaultRetryPolicy,
		requestHeaders: map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json",
		},
		retryStatusCodes: defaultRetryStatusCodes(),
	}
}

func defaultRetryStatusCodes() map[int]bool {
	return map[int]bool{408: true, 429: true, 500: true, 502: true, 503: true, 504: true}
}

func WithRequestLogger(logger RequestLogger) Option {
	return func(o *Options) {
		if logger != nil {
			o.requestLogger = logger
		}
	}
}

func WithRetryPolicy(policy func(*resty.Response, error) bool) Option {
	return func(o *Options) {
		if policy != nil {
			o.retryPolicy = policy
		}
	}
}

// WithRetryStatusCodes replaces the set of status codes that are retried
// and that mark an APIError as retriable.
func WithRetryStatusCodes(codes ...int) Option {
	return func(o *Options) {
		if len(codes) == 0 {
			return
		}
		set := make(map[int]bool, len(codes))
		for _, code := range codes {
			set[code] = true
		}
		o.retryStatusCodes = set
	}
}

func WithRequestHeader(header, value string) Option {
	return func(o *Options) {
		header = strings.TrimSpace(header)

		if header == "" || strings.EqualFold(header, "Content-Type") || strings.EqualFold(header, "Accept") {
			return
		}

		o.requestHeaders[header] = value
	}
}

func (o *Options) Validate() error {
	if o.requestLogger == nil {
		return fmt.Errorf("requestLogger must not be nil")
	}
	if o.retryPolicy == nil {
		return fmt.Errorf("retryPolicy must not be nil")
	}
	if len(o.retryStatusCodes) == 0 {
		return fmt.Errorf("retryStatusCodes must not be empty")
	}
	return nil
}
