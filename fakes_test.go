package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
)

type notifyCall struct {
	URL, Ref string
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
	err   error
}

func (n *recordingNotifier) NotifyPush(ctx context.Context, url, ref string) (*Response, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifyCall{URL: url, Ref: ref})
	if n.err != nil {
		return nil, n.err
	}
	res := textResponse(http.StatusAccepted, fmt.Sprintf("notified %s\n", url))
	res.Header.Set("X-Notified", url)
	return res, nil
}

func (n *recordingNotifier) recorded() []notifyCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notifyCall(nil), n.calls...)
}

type countingTrigger struct {
	runs int32
}

func (t *countingTrigger) Run() { atomic.AddInt32(&t.runs, 1) }

func (t *countingTrigger) count() int { return int(atomic.LoadInt32(&t.runs)) }

type fakeProject struct {
	name     string
	disabled bool
	scm      SCM
	trigger  *countingTrigger
	panics   bool
}

func (p *fakeProject) FullDisplayName() string { return p.name }

func (p *fakeProject) Disabled() bool { return p.disabled }

func (p *fakeProject) SCM() SCM {
	if p.panics {
		panic("broken scm configuration")
	}
	return p.scm
}

func (p *fakeProject) PollTrigger() PollTrigger {
	if p.trigger == nil {
		return nil
	}
	return p.trigger
}

func gitoriousSCM(browserURL string) SCM {
	return SCM{
		Kind:    GitSCM,
		Remote:  browserURL + ".git",
		Browser: &RepositoryBrowser{Kind: GitoriousWeb, URL: browserURL},
	}
}

type projectList []Project

func (l projectList) ListAll(ctx context.Context) ([]Project, error) {
	return l, nil
}

// principalDirectory records the principal it was listed as.
type principalDirectory struct {
	projectList
	seen Principal
}

func (d *principalDirectory) ListAll(ctx context.Context) ([]Project, error) {
	d.seen = principalFrom(ctx)
	return d.projectList, nil
}

type failingDirectory struct{}

func (failingDirectory) ListAll(ctx context.Context) ([]Project, error) {
	return nil, errors.New("directory unavailable")
}

type panickingDirectory struct{}

func (panickingDirectory) ListAll(ctx context.Context) ([]Project, error) {
	panic("directory corrupted")
}
