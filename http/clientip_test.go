package http_test

import (
	"net/http/httptest"
	"testing"

	sitehosthttp "github.com/sagarc03/sitehost/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientIPResolver(t *testing.T) {
	resolver, err := sitehosthttp.NewClientIPResolver([]string{"10.0.0.0/8", "192.168.1.5", " "})
	require.NoError(t, err)

	tests := []struct {
		name       string
		remoteAddr string
		xff        []string
		want       string
	}{
		{name: "direct peer", remoteAddr: "203.0.113.1:1234", want: "203.0.113.1"},
		{name: "untrusted peer ignores header", remoteAddr: "203.0.113.1:1234", xff: []string{"1.2.3.4"}, want: "203.0.113.1"},
		{name: "trusted peer uses header", remoteAddr: "10.0.0.1:1234", xff: []string{"198.51.100.2"}, want: "198.51.100.2"},
		{name: "single host trust", remoteAddr: "192.168.1.5:80", xff: []string{"198.51.100.2"}, want: "198.51.100.2"},
		{name: "rightmost untrusted wins", remoteAddr: "10.0.0.1:1234", xff: []string{"6.6.6.6, 198.51.100.2, 10.0.0.9"}, want: "198.51.100.2"},
		{name: "multiple header lines", remoteAddr: "10.0.0.1:1234", xff: []string{"6.6.6.6", "198.51.100.2"}, want: "198.51.100.2"},
		{name: "all hops trusted", remoteAddr: "10.0.0.1:1234", xff: []string{"10.0.0.2, 10.0.0.3"}, want: "10.0.0.2"},
		{name: "garbage stops walk", remoteAddr: "10.0.0.1:1234", xff: []string{"198.51.100.2, not-an-ip"}, want: "10.0.0.1"},
		{name: "trusted peer no header", remoteAddr: "10.0.0.1:1234", want: "10.0.0.1"},
		{name: "ipv6 peer", remoteAddr: "[2001:db8::1]:443", want: "2001:db8::1"},
		{name: "ipv4 mapped peer", remoteAddr: "[::ffff:10.0.0.1]:80", xff: []string{"198.51.100.2"}, want: "198.51.100.2"},
		{name: "unparseable remote addr", remoteAddr: "pipe", want: "pipe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for _, v := range tt.xff {
				req.Header.Add("X-Forwarded-For", v)
			}

			assert.Equal(t, tt.want, resolver.ClientIP(req))
		})
	}
}

func TestClientIPResolver_NoTrustedProxies(t *testing.T) {
	var resolver *sitehosthttp.ClientIPResolver

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "198.51.100.2")

	assert.Equal(t, "10.0.0.1", resolver.ClientIP(req))
}

func TestNewClientIPResolver_Invalid(t *testing.T) {
	for _, s := range []string{"10.0.0.0/33", "not-an-ip", "10.0.0/8"} {
		_, err := sitehosthttp.NewClientIPResolver([]string{s})
		assert.Error(t, err, s)
	}
}
