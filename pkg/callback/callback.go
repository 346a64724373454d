package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/pkg/errors"
)

// Fn posts a JSON payload to every configured callback URL when invoked
type Fn func(ctx context.Context, v interface{}) []error

// Parse validates callback URLs and returns a closure which can send
// a run report to each of them; no URLs means a no-op closure.
func Parse(callbackURLs []string) (Fn, error) {
	if len(callbackURLs) == 0 {
		return func(_ context.Context, _ interface{}) []error {
			return nil
		}, nil
	}

	parsedURLs := make([]string, 0, len(callbackURLs))
	for _, v := range callbackURLs {
		u, err := url.Parse(v)
		if err != nil {
			return nil, errors.Wrapf(err, "could not parse callback url %q", v)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return nil, fmt.Errorf("callback url %q must be http or https", v)
		}
		parsedURLs = append(parsedURLs, u.String())
	}

	client := &http.Client{}
	return func(ctx context.Context, v interface{}) []error {
		payload, err := json.Marshal(v)
		if err != nil {
			return []error{errors.Wrapf(err, "error encoding %v", v)}
		}

		var errs []error
		for _, callBackURL := range parsedURLs {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, callBackURL, bytes.NewReader(payload))
			if err != nil {
				errs = append(errs, errors.Wrapf(err, "error creating request to %q", callBackURL))
				continue
			}
			req.Header.Set("Content-Type", "application/json")
			resp, err := client.Do(req)
			if err != nil {
				errs = append(errs, errors.Wrapf(err, "error while posting callback to %q", callBackURL))
				continue
			}
			_ = resp.Body.Close()
			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				errs = append(errs, fmt.Errorf("error while posting callback to %q: status code %d", callBackURL, resp.StatusCode))
			}
		}
		return errs
	}, nil
}
