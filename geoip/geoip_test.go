package geoip

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Bidiche49/art-des-jardins-sub001/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, hits *atomic.Int32, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLookupResolvesAndCaches(t *testing.T) {
	var hits atomic.Int32
	srv := newTestServer(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/8.8.8.8", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"success","city":"Lyon","country":"France","countryCode":"FR"}`))
	})

	c := New(Config{Endpoint: srv.URL + "/"}, cache.NewMemory(0), nil)

	loc := c.Lookup(context.Background(), "8.8.8.8")
	require.NotNil(t, loc)
	assert.Equal(t, "Lyon", loc.City)
	assert.Equal(t, "FR", loc.CountryCode)

	again := c.Lookup(context.Background(), "8.8.8.8")
	require.NotNil(t, again)
	assert.Equal(t, int32(1), hits.Load())
}

func TestLookupSkipsPrivateAddresses(t *testing.T) {
	var hits atomic.Int32
	srv := newTestServer(t, &hits, func(w http.ResponseWriter, r *http.Request) {})

	c := New(Config{Endpoint: srv.URL + "/"}, nil, nil)
	for _, ip := range []string{"10.0.0.1", "192.168.1.20", "127.0.0.1", "::1", "fe80::1", "", "garbage"} {
		assert.Nil(t, c.Lookup(context.Background(), ip), ip)
	}
	assert.Equal(t, int32(0), hits.Load())
}

func TestLookupDegradesOnTimeout(t *testing.T) {
	var hits atomic.Int32
	srv := newTestServer(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})

	c := New(Config{Endpoint: srv.URL + "/", Timeout: 20 * time.Millisecond}, nil, nil)
	assert.Nil(t, c.Lookup(context.Background(), "1.1.1.1"))
}

func TestLookupDegradesOnUpstreamFailure(t *testing.T) {
	var hits atomic.Int32
	srv := newTestServer(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"fail","message":"reserved range"}`))
	})

	c := New(Config{Endpoint: srv.URL + "/"}, nil, nil)
	assert.Nil(t, c.Lookup(context.Background(), "1.1.1.1"))
}

func TestIsPublic(t *testing.T) {
	assert.True(t, IsPublic(net.ParseIP("8.8.4.4")))
	assert.False(t, IsPublic(net.ParseIP("172.16.0.3")))
}
