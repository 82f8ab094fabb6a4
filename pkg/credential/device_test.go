package credential

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routecodex/routecodex/pkg/types"
)

func TestHTTPDeviceFlowClient_RefreshToken_ExchangesViaOAuth2(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "rt-old", r.Form.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-new","refresh_token":"rt-new","expires_in":3600,"token_type":"Bearer"}`))
	}))
	defer srv.Close()

	c := NewHTTPDeviceFlowClient()
	tok, err := c.RefreshToken(context.Background(), types.OAuthEndpoints{TokenURL: srv.URL, ClientID: "client1"}, "rt-old")
	require.NoError(t, err)
	assert.Equal(t, "at-new", tok.AccessToken)
	assert.Equal(t, "rt-new", tok.RefreshToken)
}

func TestHTTPDeviceFlowClient_RefreshToken_UpstreamErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	c := NewHTTPDeviceFlowClient()
	_, err := c.RefreshToken(context.Background(), types.OAuthEndpoints{TokenURL: srv.URL, ClientID: "client1"}, "rt-old")
	require.Error(t, err)
}
