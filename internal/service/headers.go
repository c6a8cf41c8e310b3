package service

import (
	"net/http"

	"edge-proxy-go/internal/route"
)

// identityHeaders reveal the originating client and are never sent to backends.
var identityHeaders = []string{
	"X-Forwarded-For",
	"X-Real-Ip",
	"Forwarded",
}

// TransformHeaders derives the header set sent to the backend of e:
// inbound headers, overlaid with the route's static headers, with Host
// pointing at the backend and client identity headers removed.
func TransformHeaders(in http.Header, e route.Entry) http.Header {
	out := make(http.Header, len(in)+len(e.Headers)+1)
	for key, vals := range in {
		ck := http.CanonicalHeaderKey(key)
		out[ck] = append(out[ck], vals...)
	}

	for key, val := range e.Headers {
		out.Set(key, val)
	}

	out.Set("Host", e.Host())

	for _, h := range identityHeaders {
		out.Del(h)
	}
	return out
}
