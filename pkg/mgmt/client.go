package mgmt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/SpectraLogic/ds3-docker-runner/pkg/config"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrNoS3Keys     = errors.New("user has no S3 keys")
)

// maxErrorBody limits how much of a failed response ends up in the error message
const maxErrorBody = 512

// Client talks to the appliance management API with basic auth over https
type Client struct {
	baseURL    *url.URL
	username   string
	password   string
	usersPath  string
	keysPath   string
	httpClient *http.Client
}

func NewClient(cfg *config.ManagementConfig) (*Client, error) {
	baseURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, errors.Wrapf(err, "can't parse management url %q", cfg.URL)
	}
	if baseURL.Scheme != "https" {
		return nil, fmt.Errorf("management url %q must use https", cfg.URL)
	}
	tlsConfig, err := newTLSConfig(cfg.CAFile, cfg.SkipCertVerification)
	if err != nil {
		return nil, err
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig
	return &Client{
		baseURL:    baseURL,
		username:   cfg.Username,
		password:   cfg.Password,
		usersPath:  cfg.GetUsersPath(),
		keysPath:   cfg.GetKeysPath(),
		httpClient: &http.Client{Transport: transport},
	}, nil
}

func newTLSConfig(caPath string, skipVerify bool) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: skipVerify,
	}
	if caPath != "" {
		caCert, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("read ca file %s return error: %v", caPath, err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("AppendCertsFromPEM %s return false", caPath)
		}
		tlsConfig.RootCAs = caCertPool
	}
	return tlsConfig, nil
}

// UsersURL - users_path relative to the management base URL
func (c *Client) UsersURL() string {
	return c.resolve(c.usersPath, nil)
}

// ListUsers - GET users_path
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	return getData[User](ctx, c, c.UsersURL())
}

// FindUser returns the user with exactly the given name, or ErrUserNotFound.
// A match without an id is not a user the keys can be filtered by.
func (c *Client) FindUser(ctx context.Context, name string) (User, error) {
	users, err := c.ListUsers(ctx)
	if err != nil {
		return User{}, err
	}
	user, ok := LookupUser(users, name)
	if !ok {
		return User{}, errors.Wrapf(ErrUserNotFound, "no user named %q among %d users", name, len(users))
	}
	if user.ID == "" {
		return User{}, errors.Wrapf(ErrUserNotFound, "user %q has no id", name)
	}
	return user, nil
}

// LookupUser scans users for an exact name match, the last match wins
func LookupUser(users []User, name string) (User, bool) {
	var found User
	ok := false
	for _, user := range users {
		if user.Name == name {
			found, ok = user, true
		}
	}
	return found, ok
}

// KeysURL - keys_path filtered by user_id, relative to the management base URL
func (c *Client) KeysURL(userID ID) string {
	return c.resolve(c.keysPath, url.Values{"user_id": []string{userID.String()}})
}

// ListS3Keys - GET keys_path?user_id=<id>
func (c *Client) ListS3Keys(ctx context.Context, userID ID) ([]S3Key, error) {
	return getData[S3Key](ctx, c, c.KeysURL(userID))
}

// FetchCredentials looks up the named user and returns its first S3 key pair
func (c *Client) FetchCredentials(ctx context.Context, userName string) (*Credentials, error) {
	user, err := c.FindUser(ctx, userName)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("user", user.Name).Str("userId", user.ID.String()).Msg("found user")
	keys, err := c.ListS3Keys(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, errors.Wrapf(ErrNoS3Keys, "user %q (id=%s)", user.Name, user.ID)
	}
	if len(keys) > 1 {
		log.Debug().Str("user", user.Name).Int("keys", len(keys)).Msg("more than one S3 key pair, will use the first one")
	}
	return &Credentials{User: user, Key: keys[0]}, nil
}

func (c *Client) resolve(p string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(p, "/")
	u.RawQuery = ""
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func getData[T any](ctx context.Context, c *Client, requestURL string) ([]T, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "error creating request to %q", requestURL)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	log.Debug().Str("url", requestURL).Msg("GET")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "GET %q", requestURL)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Str("url", requestURL).Msg("can't close response body")
		}
	}()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "can't read response of %q", requestURL)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, fmt.Errorf("GET %q: status code %d: %s", requestURL, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var env envelope[T]
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errors.Wrapf(err, "can't decode response of %q", requestURL)
	}
	if env.Data == nil {
		return nil, fmt.Errorf("response of %q has no `data` array", requestURL)
	}
	return *env.Data, nil
}
