package main

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	cron "gopkg.in/robfig/cron.v2"
)

const defaultPollQueue = 64

// Poller runs project polls on behalf of poll triggers, one at a time.
// A poll asks the notifier to look at each git remote of the project.
type Poller struct {
	notifier Notifier
	cron     *cron.Cron
	queue    chan Project
	log      *logrus.Entry

	mu      sync.Mutex
	pending map[string]bool
}

func NewPoller(n Notifier, queueSize int) *Poller {
	if queueSize <= 0 {
		queueSize = defaultPollQueue
	}
	return &Poller{
		notifier: n,
		cron:     cron.New(),
		queue:    make(chan Project, queueSize),
		log:      logrus.WithField("component", "poller"),
		pending:  map[string]bool{},
	}
}

type pollTrigger struct {
	poller  *Poller
	project Project
}

func (t pollTrigger) Run() {
	t.poller.enqueue(t.project)
}

// Register returns the poll trigger for project. A non-empty schedule
// (cron syntax, or a descriptor such as "@every 10m") also runs it
// periodically.
func (p *Poller) Register(project Project, schedule string) (PollTrigger, error) {
	t := pollTrigger{poller: p, project: project}
	if schedule != "" {
		if _, err := p.cron.AddFunc(schedule, t.Run); err != nil {
			return nil, errors.Wrapf(err, "project %q: invalid poll schedule %q", project.FullDisplayName(), schedule)
		}
	}
	return t, nil
}

// enqueue never blocks. A project already waiting is not queued twice.
func (p *Poller) enqueue(project Project) bool {
	name := project.FullDisplayName()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending[name] {
		p.log.WithField("project", name).Debug("poll already pending")
		return false
	}
	select {
	case p.queue <- project:
		p.pending[name] = true
		return true
	default:
		p.log.WithField("project", name).Warn("poll queue full, dropping poll")
		return false
	}
}

// Run works the queue and the schedules until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	p.cron.Start()
	defer p.cron.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case project := <-p.queue:
			p.mu.Lock()
			delete(p.pending, project.FullDisplayName())
			p.mu.Unlock()
			p.poll(ctx, project)
		}
	}
}

func (p *Poller) poll(ctx context.Context, project Project) {
	l := p.log.WithField("project", project.FullDisplayName())
	targets := pollTargets(project.SCM())
	if len(targets) == 0 {
		l.Warn("nothing to poll, no git remote configured")
		return
	}
	for _, scm := range targets {
		l := l.WithField("url", scm.Remote)
		ctx, cancel := context.WithTimeout(ctx, timeout)
		_, err := p.notifier.NotifyPush(ctx, scm.Remote, scm.Branch)
		cancel()
		if err != nil {
			pollCounter.WithLabelValues("error").Inc()
			l.WithError(err).Error("poll failed")
			continue
		}
		pollCounter.WithLabelValues("ok").Inc()
		l.Info("polled")
	}
}

func pollTargets(scm SCM) []SCM {
	switch scm.Kind {
	case GitSCM:
		if scm.Remote == "" {
			return nil
		}
		return []SCM{scm}
	case MultipleSCM:
		var out []SCM
		for _, child := range scm.SCMs {
			out = append(out, pollTargets(child)...)
		}
		return out
	}
	return nil
}
