package mgmt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/SpectraLogic/ds3-docker-runner/pkg/config"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeAppliance struct {
	users      string
	keys       map[string]string
	usersCalls int32
	keysCalls  int32
	keysQuery  string
}

func (f *fakeAppliance) router(t *testing.T, usersPath, keysPath string) *mux.Router {
	checkRequest := func(r *http.Request) bool {
		user, pass, ok := r.BasicAuth()
		return ok && user == "spectra" && pass == "spectra" &&
			r.Header.Get("Accept") == "application/json" &&
			r.Header.Get("Content-Type") == "application/json"
	}
	router := mux.NewRouter()
	router.HandleFunc(usersPath, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.usersCalls, 1)
		if !checkRequest(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if _, err := w.Write([]byte(f.users)); err != nil {
			t.Errorf("can't write users response: %v", err)
		}
	}).Methods(http.MethodGet)
	router.HandleFunc(keysPath, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.keysCalls, 1)
		f.keysQuery = r.URL.RawQuery
		if !checkRequest(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		body, ok := f.keys[r.URL.Query().Get("user_id")]
		if !ok {
			body = `{"data":[]}`
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Errorf("can't write keys response: %v", err)
		}
	}).Methods(http.MethodGet)
	return router
}

func newTestClient(t *testing.T, f *fakeAppliance, apiStyle string) *Client {
	t.Helper()
	cfg := config.DefaultConfig().Management
	cfg.APIStyle = apiStyle
	srv := httptest.NewTLSServer(f.router(t, cfg.GetUsersPath(), cfg.GetKeysPath()))
	t.Cleanup(srv.Close)
	cfg.URL = srv.URL
	client, err := NewClient(&cfg)
	require.NoError(t, err)
	return client
}

func TestFetchCredentials(t *testing.T) {
	r := require.New(t)
	f := &fakeAppliance{
		users: `{"data":[{"id":7,"name":"Administrator"},{"id":42,"name":"Spectra","email":"spectra@example.com"}]}`,
		keys:  map[string]string{"42": `{"data":[{"auth_id":"A","secret_key":"S"},{"auth_id":"B","secret_key":"T"}]}`},
	}
	client := newTestClient(t, f, config.APIStyleS3V)

	creds, err := client.FetchCredentials(context.Background(), "Spectra")
	r.NoError(err)
	r.Equal(ID("42"), creds.User.ID)
	r.Equal("A", creds.Key.AuthID)
	r.Equal("S", creds.Key.SecretKey)
	r.EqualValues(1, f.usersCalls)
	r.EqualValues(1, f.keysCalls)
}

func TestFetchCredentialsAPIStyle(t *testing.T) {
	f := &fakeAppliance{
		users: `{"data":[{"id":"0b6f0b6e-6a3c-4b5e-9d1c-6e2b9b0c1d2e","name":"Spectra"}]}`,
		keys:  map[string]string{"0b6f0b6e-6a3c-4b5e-9d1c-6e2b9b0c1d2e": `{"data":[{"auth_id":"QQ==","secret_key":"Uw=="}]}`},
	}
	client := newTestClient(t, f, config.APIStyleAPI)

	creds, err := client.FetchCredentials(context.Background(), "Spectra")
	require.NoError(t, err)
	require.Equal(t, "QQ==", creds.Key.AuthID)
}

func TestFetchCredentialsUserNotFound(t *testing.T) {
	f := &fakeAppliance{users: `{"data":[{"id":1,"name":"spectra"},{"id":2,"name":"Administrator"}]}`}
	client := newTestClient(t, f, config.APIStyleS3V)

	_, err := client.FetchCredentials(context.Background(), "Spectra")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrUserNotFound))
	require.EqualValues(t, 0, f.keysCalls, "keys must not be requested without a user")
}

func TestFetchCredentialsNoKeys(t *testing.T) {
	f := &fakeAppliance{users: `{"data":[{"id":42,"name":"Spectra"}]}`}
	client := newTestClient(t, f, config.APIStyleS3V)

	_, err := client.FetchCredentials(context.Background(), "Spectra")
	require.True(t, errors.Is(err, ErrNoS3Keys))
}

func TestFetchCredentialsBadResponses(t *testing.T) {
	testCases := []struct {
		name   string
		users  string
		errMsg string
	}{
		{"no data key", `{"users":[]}`, "no `data` array"},
		{"not json", `<html>maintenance</html>`, "can't decode response"},
		{"bad id", `{"data":[{"id":true,"name":"Spectra"}]}`, "id must be a string or a number"},
		{"null id", `{"data":[{"id":null,"name":"Spectra"}]}`, `user "Spectra" has no id`},
		{"missing id", `{"data":[{"name":"Spectra"}]}`, `user "Spectra" has no id`},
		{"empty id", `{"data":[{"id":"","name":"Spectra"}]}`, `user "Spectra" has no id`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// an unfiltered keys request would return the key pair of another user
			f := &fakeAppliance{
				users: tc.users,
				keys:  map[string]string{"": `{"data":[{"auth_id":"OTHER","secret_key":"X"}]}`},
			}
			client := newTestClient(t, f, config.APIStyleS3V)
			creds, err := client.FetchCredentials(context.Background(), "Spectra")
			require.Error(t, err)
			require.Nil(t, creds)
			require.Contains(t, err.Error(), tc.errMsg)
			require.EqualValues(t, 0, f.keysCalls, "keys must not be requested without a user id")
		})
	}
}

func TestListS3KeysEscapesUserID(t *testing.T) {
	r := require.New(t)
	f := &fakeAppliance{keys: map[string]string{"a b&c": `{"data":[{"auth_id":"A","secret_key":"S"}]}`}}
	client := newTestClient(t, f, config.APIStyleS3V)

	keys, err := client.ListS3Keys(context.Background(), "a b&c")
	r.NoError(err)
	r.Equal([]S3Key{{AuthID: "A", SecretKey: "S"}}, keys)
	r.Equal("user_id=a+b%26c", f.keysQuery)
}

func TestUnauthorizedIsAnError(t *testing.T) {
	f := &fakeAppliance{users: `{"data":[]}`}
	cfg := config.DefaultConfig().Management
	srv := httptest.NewTLSServer(f.router(t, cfg.GetUsersPath(), cfg.GetKeysPath()))
	defer srv.Close()
	cfg.URL = srv.URL
	cfg.Password = "wrong"
	client, err := NewClient(&cfg)
	require.NoError(t, err)

	_, err = client.ListUsers(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "status code 401")
}

func TestCertificateVerification(t *testing.T) {
	f := &fakeAppliance{users: `{"data":[]}`}
	cfg := config.DefaultConfig().Management
	srv := httptest.NewTLSServer(f.router(t, cfg.GetUsersPath(), cfg.GetKeysPath()))
	defer srv.Close()
	cfg.URL = srv.URL
	cfg.SkipCertVerification = false
	client, err := NewClient(&cfg)
	require.NoError(t, err)

	_, err = client.ListUsers(context.Background())
	require.Error(t, err)
	require.EqualValues(t, 0, f.usersCalls)
}

func TestNewClientRequiresHTTPS(t *testing.T) {
	cfg := config.DefaultConfig().Management
	cfg.URL = "http://sm25-2-mgmt.eng.sldomain.com"
	_, err := NewClient(&cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "must use https")
}

func TestKeysURL(t *testing.T) {
	r := require.New(t)
	cfg := config.DefaultConfig().Management
	client, err := NewClient(&cfg)
	r.NoError(err)
	r.Equal("https://sm25-2-mgmt.eng.sldomain.com/s3v/keys?user_id=42", client.KeysURL("42"))
	r.Equal("https://sm25-2-mgmt.eng.sldomain.com/s3v/keys?user_id=a+b%26c", client.KeysURL("a b&c"))

	cfg.APIStyle = config.APIStyleAPI
	cfg.URL = "https://mgmt.example.com/prefix/"
	client, err = NewClient(&cfg)
	r.NoError(err)
	r.Equal("https://mgmt.example.com/prefix/api/ds3/keys?user_id=42", client.KeysURL("42"))
}

func TestLookupUser(t *testing.T) {
	users := []User{{ID: "1", Name: "Spectra"}, {ID: "2", Name: "Administrator"}, {ID: "3", Name: "Spectra"}}
	user, ok := LookupUser(users, "Spectra")
	require.True(t, ok)
	require.Equal(t, ID("3"), user.ID)

	_, ok = LookupUser(users, "spectra")
	require.False(t, ok)
	_, ok = LookupUser(nil, "Spectra")
	require.False(t, ok)
}

func TestIDUnmarshal(t *testing.T) {
	var users []User
	require.NoError(t, json.Unmarshal([]byte(`[{"id":42},{"id":"42"},{"id":4.2e1}]`), &users))
	require.Equal(t, ID("42"), users[0].ID)
	require.Equal(t, ID("42"), users[1].ID)
	require.Equal(t, ID("4.2e1"), users[2].ID)

	var user User
	require.NoError(t, json.Unmarshal([]byte(`{"id":null,"name":"Spectra"}`), &user))
	require.Equal(t, ID(""), user.ID)
}
