package middleware

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientAddress(t *testing.T) {
	trusted := []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("fd00::/8"),
	}

	cases := []struct {
		name   string
		remote string
		xff    []string
		realIP string
		want   string
	}{
		{name: "untrusted peer ignores forwarded for", remote: "203.0.113.9:4000", xff: []string{"198.51.100.7"}, want: "203.0.113.9"},
		{name: "untrusted peer ignores real ip", remote: "203.0.113.9:4000", realIP: "198.51.100.7", want: "203.0.113.9"},
		{name: "trusted peer single hop", remote: "10.0.0.2:4000", xff: []string{"198.51.100.7"}, want: "198.51.100.7"},
		{name: "rightmost untrusted hop wins", remote: "10.0.0.2:4000", xff: []string{"1.1.1.1, 198.51.100.7, 10.0.0.3"}, want: "198.51.100.7"},
		{name: "repeated headers are one list", remote: "10.0.0.2:4000", xff: []string{"1.1.1.1", "198.51.100.7"}, want: "198.51.100.7"},
		{name: "all hops trusted", remote: "10.0.0.2:4000", xff: []string{"10.0.0.9, 10.0.0.3"}, want: "10.0.0.9"},
		{name: "garbled hop stops the walk", remote: "10.0.0.2:4000", xff: []string{"198.51.100.7, not-an-ip"}, want: "10.0.0.2"},
		{name: "trusted peer real ip", remote: "10.0.0.2:4000", realIP: "198.51.100.7", want: "198.51.100.7"},
		{name: "trusted peer without headers", remote: "10.0.0.2:4000", want: "10.0.0.2"},
		{name: "ipv6 peer", remote: "[fd00::1]:4000", xff: []string{"2001:db8::5"}, want: "2001:db8::5"},
		{name: "mapped ipv4 peer", remote: "[::ffff:203.0.113.9]:4000", want: "203.0.113.9"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got string
			handler := ClientAddress(trusted)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				got = ClientIP(r)
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			for _, v := range tc.xff {
				req.Header.Add("X-Forwarded-For", v)
			}
			if tc.realIP != "" {
				req.Header.Set("X-Real-IP", tc.realIP)
			}

			handler.ServeHTTP(httptest.NewRecorder(), req)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestClientIPWithoutMiddlewareIsPeer(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:4000"
	req.Header.Set("X-Forwarded-For", "198.51.100.7")

	require.Equal(t, "203.0.113.9", ClientIP(req))
}
