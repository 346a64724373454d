package callback

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
)

type report struct {
	Image    string `json:"image"`
	ExitCode int    `json:"exit_code"`
}

func TestParse(t *testing.T) {
	ctx := context.Background()
	received := make(chan report, 5)

	router := mux.NewRouter()
	router.HandleFunc("/good", func(w http.ResponseWriter, r *http.Request) {
		defer func() { _ = r.Body.Close() }()
		if r.Header.Get("Content-Type") != "application/json" {
			http.Error(w, "bad content type", http.StatusBadRequest)
			return
		}
		var data report
		if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		received <- data
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPost)
	router.HandleFunc("/bad", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad endpoint error", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(router)
	defer srv.Close()

	t.Run("no callbacks", func(t *testing.T) {
		cb, err := Parse(nil)
		require.NoError(t, err)
		require.Nil(t, cb(ctx, report{}))
	})

	t.Run("invalid url", func(t *testing.T) {
		_, err := Parse([]string{srv.URL + "/good", "ftp://example.com/hook"})
		require.Error(t, err)
		_, err = Parse([]string{"http://[::1"})
		require.Error(t, err)
	})

	t.Run("delivered", func(t *testing.T) {
		cb, err := Parse([]string{srv.URL + "/good"})
		require.NoError(t, err)
		pl := report{Image: "spectralogic/ds3_c_docker_test", ExitCode: 1}
		require.Empty(t, cb(ctx, pl))
		require.Equal(t, pl, <-received)
	})

	t.Run("bad endpoint does not stop delivery", func(t *testing.T) {
		cb, err := Parse([]string{srv.URL + "/bad", srv.URL + "/good"})
		require.NoError(t, err)
		pl := report{Image: "x", ExitCode: 0}
		errs := cb(ctx, pl)
		require.Len(t, errs, 1)
		require.Contains(t, errs[0].Error(), "status code 500")
		require.Equal(t, pl, <-received)
	})

	t.Run("unmarshalable payload", func(t *testing.T) {
		cb, err := Parse([]string{srv.URL + "/good"})
		require.NoError(t, err)
		type recursive struct {
			Ref *recursive `json:"ref"`
		}
		bad := recursive{}
		bad.Ref = &bad
		require.Len(t, cb(ctx, bad), 1)
	})
}
