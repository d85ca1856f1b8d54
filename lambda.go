package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/aws/aws-lambda-go/events"
)

// lambdaHandler adapts an http.Handler to Lambda invocations. Function URL
// and API Gateway HTTP API (payload 2.0) events are answered in kind; REST
// API (payload 1.0) events get an APIGatewayProxyResponse.
func lambdaHandler(h http.Handler) func(context.Context, json.RawMessage) (any, error) {
	return func(ctx context.Context, payload json.RawMessage) (any, error) {
		if isFunctionURLEvent(payload) {
			var ev events.LambdaFunctionURLRequest
			if err := json.Unmarshal(payload, &ev); err != nil {
				return nil, fmt.Errorf("decode function url event: %w", err)
			}
			req, err := functionURLRequest(ctx, ev)
			if err != nil {
				return nil, err
			}
			return serveBuffered(h, req).functionURLResponse(), nil
		}

		var ev events.APIGatewayProxyRequest
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("decode api gateway event: %w", err)
		}
		req, err := proxyRequest(ctx, ev)
		if err != nil {
			return nil, err
		}
		return serveBuffered(h, req).proxyResponse(), nil
	}
}

// isFunctionURLEvent reports whether payload uses the 2.0 event shape.
func isFunctionURLEvent(payload json.RawMessage) bool {
	var probe struct {
		Version        string `json:"version"`
		RawPath        string `json:"rawPath"`
		RequestContext struct {
			HTTP *struct {
				Method string `json:"method"`
			} `json:"http"`
		} `json:"requestContext"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return false
	}
	return probe.Version == "2.0" || probe.RawPath != "" || probe.RequestContext.HTTP != nil
}

func eventBody(body string, isBase64 bool) ([]byte, error) {
	if !isBase64 {
		return []byte(body), nil
	}
	b, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("decode base64 body: %w", err)
	}
	return b, nil
}

func functionURLRequest(ctx context.Context, ev events.LambdaFunctionURLRequest) (*http.Request, error) {
	body, err := eventBody(ev.Body, ev.IsBase64Encoded)
	if err != nil {
		return nil, err
	}
	// rawPath arrives percent-encoded; keep it so escaped segments survive.
	rawPath := ev.RawPath
	if rawPath == "" {
		rawPath = ev.RequestContext.HTTP.Path
	}
	if rawPath == "" {
		rawPath = "/"
	}
	path, err := url.PathUnescape(rawPath)
	if err != nil {
		return nil, fmt.Errorf("decode path %q: %w", rawPath, err)
	}
	target := &url.URL{Path: path, RawPath: rawPath, RawQuery: ev.RawQueryString}
	method := ev.RequestContext.HTTP.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, target.RequestURI(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range ev.Headers {
		req.Header.Set(k, v)
	}
	if len(ev.Cookies) > 0 {
		req.Header.Set("Cookie", strings.Join(ev.Cookies, "; "))
	}
	finishRequest(req, ev.RequestContext.HTTP.SourceIP)
	return req, nil
}

func proxyRequest(ctx context.Context, ev events.APIGatewayProxyRequest) (*http.Request, error) {
	body, err := eventBody(ev.Body, ev.IsBase64Encoded)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	if len(ev.MultiValueQueryStringParameters) > 0 {
		for k, vs := range ev.MultiValueQueryStringParameters {
			for _, v := range vs {
				query.Add(k, v)
			}
		}
	} else {
		for k, v := range ev.QueryStringParameters {
			query.Set(k, v)
		}
	}
	path := ev.Path
	if path == "" {
		path = "/"
	}
	target := &url.URL{Path: path, RawQuery: query.Encode()}
	method := ev.HTTPMethod
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, target.RequestURI(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if len(ev.MultiValueHeaders) > 0 {
		for k, vs := range ev.MultiValueHeaders {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
	} else {
		for k, v := range ev.Headers {
			req.Header.Set(k, v)
		}
	}
	finishRequest(req, ev.RequestContext.Identity.SourceIP)
	return req, nil
}

func finishRequest(req *http.Request, sourceIP string) {
	if host := req.Header.Get("Host"); host != "" {
		req.Host = host
	}
	if fwd := req.Header.Get("X-Forwarded-For"); fwd != "" {
		req.RemoteAddr = strings.TrimSpace(strings.Split(fwd, ",")[0])
	} else if sourceIP != "" {
		req.RemoteAddr = sourceIP
	}
}

type bufferedResponse struct {
	status int
	header http.Header
	body   []byte
}

func serveBuffered(h http.Handler, req *http.Request) *bufferedResponse {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	res := rec.Result()
	return &bufferedResponse{status: res.StatusCode, header: res.Header, body: rec.Body.Bytes()}
}

// encodedBody returns the body as text for text-like content types and as
// base64 otherwise.
func (r *bufferedResponse) encodedBody() (string, bool) {
	if isTextContent(r.header.Get("Content-Type")) && utf8.Valid(r.body) {
		return string(r.body), false
	}
	if len(r.body) == 0 {
		return "", false
	}
	return base64.StdEncoding.EncodeToString(r.body), true
}

func isTextContent(contentType string) bool {
	ct := strings.ToLower(contentType)
	if ct == "" || strings.HasPrefix(ct, "text/") {
		return true
	}
	for _, marker := range []string{"json", "xml", "javascript", "svg"} {
		if strings.Contains(ct, marker) {
			return true
		}
	}
	return false
}

// flatHeaders joins repeated header values with commas. Set-Cookie is
// left out; callers carry cookies separately.
func (r *bufferedResponse) flatHeaders() map[string]string {
	out := make(map[string]string, len(r.header))
	for k, vs := range r.header {
		if http.CanonicalHeaderKey(k) == "Set-Cookie" {
			continue
		}
		out[k] = strings.Join(vs, ",")
	}
	return out
}

func (r *bufferedResponse) functionURLResponse() events.LambdaFunctionURLResponse {
	body, b64 := r.encodedBody()
	return events.LambdaFunctionURLResponse{
		StatusCode:      r.status,
		Headers:         r.flatHeaders(),
		Body:            body,
		IsBase64Encoded: b64,
		Cookies:         r.header.Values("Set-Cookie"),
	}
}

func (r *bufferedResponse) proxyResponse() events.APIGatewayProxyResponse {
	body, b64 := r.encodedBody()
	res := events.APIGatewayProxyResponse{
		StatusCode:      r.status,
		Headers:         r.flatHeaders(),
		Body:            body,
		IsBase64Encoded: b64,
	}
	if cookies := r.header.Values("Set-Cookie"); len(cookies) > 0 {
		res.MultiValueHeaders = map[string][]string{"Set-Cookie": cookies}
	}
	return res
}
