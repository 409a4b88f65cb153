package main

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"

	fluxapi_v9 "github.com/fluxcd/flux/pkg/api/v9"
	fluxhttp "github.com/fluxcd/flux/pkg/http"
	fluxclient "github.com/fluxcd/flux/pkg/http/client"
	"github.com/pkg/errors"
)

// Response is what a notifier answered, kept so it can be replayed
// into the webhook response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func textResponse(code int, body string) *Response {
	h := http.Header{}
	h.Set("Content-Type", "text/plain; charset=utf-8")
	return &Response{StatusCode: code, Header: h, Body: []byte(body)}
}

// headers that describe the relayed message rather than its content
var unrelayedHeaders = map[string]bool{
	"Content-Length":    true,
	"Transfer-Encoding": true,
	"Connection":        true,
	"Date":              true,
}

func (r *Response) copyHeaders(dst http.Header) {
	for k, vs := range r.Header {
		if unrelayedHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

// relay writes r as the entire response.
func (r *Response) relay(w http.ResponseWriter) {
	r.copyHeaders(w.Header())
	w.WriteHeader(r.StatusCode)
	w.Write(r.Body)
}

// Notifier tells the host that a repository URL has new commits. An
// empty ref means no particular branch.
type Notifier interface {
	NotifyPush(ctx context.Context, url, ref string) (*Response, error)
}

// the part of fluxapi.Server used here
type changeNotifier interface {
	NotifyChange(context.Context, fluxapi_v9.Change) error
}

type fluxPushNotifier struct {
	api changeNotifier
}

func newFluxNotifier(apiUrl string) Notifier {
	apiClient := fluxclient.New(http.DefaultClient, fluxhttp.NewAPIRouter(), apiUrl, fluxclient.Token(""))
	return fluxPushNotifier{api: apiClient}
}

func (n fluxPushNotifier) NotifyPush(ctx context.Context, url, ref string) (*Response, error) {
	change := fluxapi_v9.Change{
		Kind: fluxapi_v9.GitChange,
		Source: fluxapi_v9.GitUpdate{
			URL:    url,
			Branch: ref,
		},
	}
	if err := n.api.NotifyChange(ctx, change); err != nil {
		return nil, errors.Wrapf(err, "notifying change of %s", url)
	}
	return textResponse(http.StatusOK, fmt.Sprintf("Notified change of %s\n", url)), nil
}

// gitStatusNotifier calls a CI server's git notifyCommit endpoint and
// hands back whatever it answered.
type gitStatusNotifier struct {
	client *http.Client
	base   string
}

func newGitStatusNotifier(client *http.Client, base string) Notifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &gitStatusNotifier{client: client, base: strings.TrimRight(base, "/")}
}

func (n *gitStatusNotifier) NotifyPush(ctx context.Context, repoURL, ref string) (*Response, error) {
	q := url.Values{}
	q.Set("url", repoURL)
	if ref != "" {
		q.Set("branches", ref)
	}
	req, err := http.NewRequest(http.MethodGet, n.base+"/git/notifyCommit?"+q.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "building notifyCommit request")
	}
	res, err := n.client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, errors.Wrapf(err, "notifying commit of %s", repoURL)
	}
	defer res.Body.Close()
	body, err := ioutil.ReadAll(res.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "reading notifyCommit response for %s", repoURL)
	}
	return &Response{StatusCode: res.StatusCode, Header: res.Header, Body: body}, nil
}

func NotifierFromConfig(c NotifierConfig) (Notifier, error) {
	switch c.Kind {
	case FluxNotifier, "":
		api := c.API
		if api == "" {
			api = defaultApiBase
		}
		return newFluxNotifier(api), nil
	case GitStatusNotifier:
		return newGitStatusNotifier(nil, c.API), nil
	}
	return nil, fmt.Errorf("unknown notifier kind %q", c.Kind)
}
