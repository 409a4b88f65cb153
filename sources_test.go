package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	fixtureRepoURL = "https://gitorious.example.com/provisioning/mp-chef"
	fixtureProject = "provisioning/mp-chef"
)

type notifiedChange struct {
	Kind   string
	Source struct {
		URL    string
		Branch string
	}
}

// downstream is a flux API which records what it was notified of.
type downstream struct {
	*httptest.Server
	mu      sync.Mutex
	changes []notifiedChange
}

func newDownstream(t *testing.T, status int) *downstream {
	d := &downstream{}
	d.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v11/notify", r.URL.Path)
		defer r.Body.Close()
		var c notifiedChange
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&c))
		d.mu.Lock()
		d.changes = append(d.changes, c)
		d.mu.Unlock()
		if status != http.StatusOK {
			http.Error(w, "downstream failure", status)
			return
		}
		fmt.Fprintln(w, `{"status": "OK"}`)
	}))
	return d
}

func (d *downstream) notified() []notifiedChange {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]notifiedChange(nil), d.changes...)
}

// helper to load e.g., a payload from fixtures
func loadFixture(t *testing.T, file string) []byte {
	bytes, err := ioutil.ReadFile("test/fixtures/" + file)
	require.NoError(t, err)
	return bytes
}

type hookTest struct {
	downstream *downstream
	poller     *Poller
	server     *httptest.Server
	route      string
}

func newHookTest(t *testing.T, status int, endpoints []Endpoint, projects []ProjectConfig) *hookTest {
	ht := &hookTest{downstream: newDownstream(t, status)}
	t.Cleanup(ht.downstream.Close)

	notifier := newFluxNotifier(ht.downstream.URL)
	ht.poller = NewPoller(notifier, 0)
	dir, err := DirectoryFromConfig(projects, ht.poller)
	require.NoError(t, err)
	recv := &Receiver{Notifier: notifier, Scanner: &scanner{dir: dir}}

	router, err := NewRouter("test/fixtures", recv, endpoints)
	require.NoError(t, err)
	if len(endpoints) > 0 {
		ht.route, _, err = HandlerFromEndpoint("test/fixtures", recv, endpoints[0])
		require.NoError(t, err)
	}
	ht.server = httptest.NewTLSServer(router)
	t.Cleanup(ht.server.Close)
	return ht
}

func (ht *hookTest) postForm(t *testing.T, payload string) *http.Response {
	form := url.Values{}
	form.Add("payload", payload)
	req, err := http.NewRequest("POST", ht.server.URL+ht.route, strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	res, err := ht.server.Client().Do(req)
	require.NoError(t, err)
	return res
}

func readBody(t *testing.T, res *http.Response) string {
	defer res.Body.Close()
	b, err := ioutil.ReadAll(res.Body)
	require.NoError(t, err)
	return string(b)
}

var mpChefProject = ProjectConfig{
	Name: fixtureProject,
	SCM: SCMConfig{
		Kind:    "git",
		Remote:  "https://git.gitorious.example.com/provisioning/mp-chef.git",
		Branch:  "master",
		Browser: &BrowserConfig{Kind: "gitoriousweb", URL: fixtureRepoURL},
	},
	Poll: &PollConfig{},
}

// Test that a push arriving at a scan endpoint notifies both clone
// URLs and schedules a poll of the project browsing the repository.
func TestGitoriousScanSource(t *testing.T) {
	ht := newHookTest(t, http.StatusOK,
		[]Endpoint{{Source: Gitorious, KeyPath: "gitorious_key", Strategy: ScanStrategy}},
		[]ProjectConfig{mpChefProject})
	assert.True(t, strings.HasPrefix(ht.route, "/gitorious/"))

	res := ht.postForm(t, string(loadFixture(t, "gitorious_payload")))
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "text/plain", res.Header.Get("Content-Type"))
	assert.Equal(t, []string{fixtureProject}, res.Header.Values(TriggeredHeader))
	assert.Equal(t,
		"Notified change of https://git.gitorious.example.com/provisioning/mp-chef.git\n"+
			"Notified change of https://gitorious.example.com/provisioning/mp-chef.git\n"+
			"Scheduled polling of provisioning/mp-chef\n",
		readBody(t, res))

	changes := ht.downstream.notified()
	require.Len(t, changes, 2)
	assert.Equal(t, "git", changes[0].Kind)
	assert.Equal(t, "https://git.gitorious.example.com/provisioning/mp-chef.git", changes[0].Source.URL)
	assert.Equal(t, "", changes[0].Source.Branch)
	assert.Equal(t, "https://gitorious.example.com/provisioning/mp-chef.git", changes[1].Source.URL)

	// the poll is queued, not run
	assert.Len(t, ht.poller.queue, 1)
}

func TestGitoriousScanSourceNotPolling(t *testing.T) {
	project := mpChefProject
	project.Poll = nil
	ht := newHookTest(t, http.StatusOK,
		[]Endpoint{{Source: Gitorious, KeyPath: "gitorious_key"}},
		[]ProjectConfig{project})

	res := ht.postForm(t, string(loadFixture(t, "gitorious_payload")))
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Empty(t, res.Header.Values(TriggeredHeader))
	assert.Contains(t, readBody(t, res), `Found "provisioning/mp-chef" but it is not configured for polling.`)
	assert.Len(t, ht.poller.queue, 0)
}

// Test that a rewrite endpoint passes the ref along with the git://
// URL, and relays the notifier's answer as is.
func TestGitoriousRewriteSource(t *testing.T) {
	ht := newHookTest(t, http.StatusOK,
		[]Endpoint{{Source: Gitorious, Strategy: RewriteStrategy}},
		[]ProjectConfig{mpChefProject})
	assert.Equal(t, "/gitorious", ht.route)

	// JSON body rather than a form
	req, err := http.NewRequest("POST", ht.server.URL+ht.route, bytes.NewReader(loadFixture(t, "gitorious_payload")))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	res, err := ht.server.Client().Do(req)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "Notified change of git://gitorious.example.com/provisioning/mp-chef.git\n", readBody(t, res))
	changes := ht.downstream.notified()
	require.Len(t, changes, 1)
	assert.Equal(t, "git://gitorious.example.com/provisioning/mp-chef.git", changes[0].Source.URL)
	assert.Equal(t, "master", changes[0].Source.Branch)
	// no scan in this strategy
	assert.Len(t, ht.poller.queue, 0)
}

func TestPayloadAsQueryParameter(t *testing.T) {
	ht := newHookTest(t, http.StatusOK,
		[]Endpoint{{Source: Gitorious, Strategy: RewriteStrategy}}, nil)

	q := url.Values{}
	q.Set("payload", `{"ref":"dev","repository":{"url":"https://example.com/org/repo"}}`)
	res, err := ht.server.Client().Get(ht.server.URL + ht.route + "?" + q.Encode())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	changes := ht.downstream.notified()
	require.Len(t, changes, 1)
	assert.Equal(t, "git://example.com/org/repo.git", changes[0].Source.URL)
	assert.Equal(t, "dev", changes[0].Source.Branch)
}

func TestRejectedDeliveries(t *testing.T) {
	ht := newHookTest(t, http.StatusOK,
		[]Endpoint{{Source: Gitorious, KeyPath: "gitorious_key"}}, []ProjectConfig{mpChefProject})

	t.Run("malformed payload", func(t *testing.T) {
		res := ht.postForm(t, "{")
		assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	})
	t.Run("missing payload", func(t *testing.T) {
		res := ht.postForm(t, "")
		assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	})
	t.Run("wrong digest", func(t *testing.T) {
		res, err := ht.server.Client().Post(ht.server.URL+"/gitorious/abc123", "application/json", strings.NewReader("{}"))
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, res.StatusCode)
	})
	t.Run("wrong method", func(t *testing.T) {
		req, err := http.NewRequest("PUT", ht.server.URL+ht.route, nil)
		require.NoError(t, err)
		res, err := ht.server.Client().Do(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)
	})

	assert.Empty(t, ht.downstream.notified())
	assert.Len(t, ht.poller.queue, 0)
}

func TestDownstreamFailure(t *testing.T) {
	ht := newHookTest(t, http.StatusInternalServerError,
		[]Endpoint{{Source: Gitorious, KeyPath: "gitorious_key"}}, []ProjectConfig{mpChefProject})

	res := ht.postForm(t, string(loadFixture(t, "gitorious_payload")))
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	// the first failure stops the delivery, the scan never runs
	assert.Len(t, ht.downstream.notified(), 1)
	assert.Len(t, ht.poller.queue, 0)
}

func TestSignedEndpoint(t *testing.T) {
	ht := newHookTest(t, http.StatusOK,
		[]Endpoint{{Source: Gitorious, KeyPath: "gitorious_key", Strategy: RewriteStrategy, Signed: true}}, nil)

	form := url.Values{}
	form.Add("payload", string(loadFixture(t, "gitorious_payload")))
	body := form.Encode()

	for name, tc := range map[string]struct {
		signature string
		status    int
	}{
		"valid":   {genGithubMAC([]byte(body), loadFixture(t, "gitorious_key")), http.StatusOK},
		"invalid": {genGithubMAC([]byte(body), []byte("not the key")), http.StatusUnauthorized},
		"missing": {"", http.StatusUnauthorized},
	} {
		t.Run(name, func(t *testing.T) {
			req, err := http.NewRequest("POST", ht.server.URL+ht.route, strings.NewReader(body))
			require.NoError(t, err)
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			if tc.signature != "" {
				req.Header.Set("X-Hub-Signature", tc.signature)
			}
			res, err := ht.server.Client().Do(req)
			require.NoError(t, err)
			assert.Equal(t, tc.status, res.StatusCode)
		})
	}
	assert.Len(t, ht.downstream.notified(), 1)
}

// Test that a signed endpoint only takes the payload from the signed
// body, never from the query string.
func TestSignedEndpointQueryPayload(t *testing.T) {
	ht := newHookTest(t, http.StatusOK,
		[]Endpoint{{Source: Gitorious, KeyPath: "gitorious_key", Strategy: RewriteStrategy, Signed: true}}, nil)

	body := loadFixture(t, "gitorious_payload")
	key := loadFixture(t, "gitorious_key")
	forged := url.Values{"payload": {`{"ref":"evil","repository":{"url":"https://attacker.example.com/x"}}`}}

	for name, tc := range map[string]struct {
		method string
		query  string
		body   []byte
		status int
	}{
		"signed json body":                   {"POST", "", body, http.StatusOK},
		"signed json body with query":        {"POST", "?" + forged.Encode(), body, http.StatusBadRequest},
		"signed empty body with query (GET)": {"GET", "?" + forged.Encode(), nil, http.StatusBadRequest},
	} {
		t.Run(name, func(t *testing.T) {
			req, err := http.NewRequest(tc.method, ht.server.URL+ht.route+tc.query, bytes.NewReader(tc.body))
			require.NoError(t, err)
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-Hub-Signature", genGithubMAC(tc.body, key))
			res, err := ht.server.Client().Do(req)
			require.NoError(t, err)
			assert.Equal(t, tc.status, res.StatusCode)
		})
	}

	changes := ht.downstream.notified()
	require.Len(t, changes, 1)
	assert.Equal(t, "git://gitorious.example.com/provisioning/mp-chef.git", changes[0].Source.URL)
	assert.Equal(t, "master", changes[0].Source.Branch)
}

func TestHealthAndMetrics(t *testing.T) {
	ht := newHookTest(t, http.StatusOK, nil, nil)

	res, err := ht.server.Client().Get(ht.server.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "OK", readBody(t, res))

	res, err = ht.server.Client().Get(ht.server.URL + "/metrics")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, readBody(t, res), "gitorious_recv_scan_failures_total")
}

// genGithubMAC generates the HMAC signature for a message provided the secret key
func genGithubMAC(message, key []byte) string {
	mac := hmac.New(sha512.New, key)
	mac.Write(message)
	signature := mac.Sum(nil)

	hexSignature := make([]byte, hex.EncodedLen(len(signature)))
	hex.Encode(hexSignature, signature)
	return "sha512=" + string(hexSignature)
}
