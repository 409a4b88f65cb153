package main

import (
	"context"
	"fmt"
	"net/url"
	"sort"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type scanResult struct {
	// Triggered projects had their poll trigger run.
	Triggered []Project
	// NonPolling projects matched but have no poll trigger.
	NonPolling []Project
	// Err collects the projects that could not be inspected, and a
	// failure to list projects at all. It never stops a scan midway.
	Err error
}

type matchOutcome int

const (
	noMatch matchOutcome = iota
	matchTriggered
	matchNotPolling
)

type scanner struct {
	dir ProjectDirectory
	// multipleSCMs resolves the git SCMs nested in a MultipleSCM.
	multipleSCMs bool
}

// resolveSCMs returns the git SCMs of a project.
func resolveSCMs(project Project, multipleSCMs bool) []SCM {
	var scms []SCM
	scm := project.SCM()
	if multipleSCMs && scm.Kind == MultipleSCM {
		for _, child := range scm.SCMs {
			if child.Kind == GitSCM {
				scms = append(scms, child)
			}
		}
	}
	if len(scms) == 0 && scm.Kind == GitSCM {
		scms = append(scms, scm)
	}
	return scms
}

// scan looks for enabled projects whose Gitorious browser points at
// repoURL and runs their poll trigger. Projects are listed as System.
func (s *scanner) scan(ctx context.Context, repoURL string, l *logrus.Entry) scanResult {
	want := browserFormattedURL(repoURL)
	l = l.WithField("browserUrl", want)
	l.Debug("checking repository browsers for matches")

	var (
		res  scanResult
		errs *multierror.Error
	)
	err := asSystem(ctx, func(ctx context.Context) error {
		projects, err := s.listAll(ctx)
		if err != nil {
			return errors.Wrap(err, "listing projects")
		}
		l.WithField("count", len(projects)).Debug("listed projects")
		for _, p := range projects {
			outcome, err := s.inspect(p, want, l)
			if err != nil {
				scanFailureCounter.Inc()
				l.WithError(err).Warn("skipping project")
				errs = multierror.Append(errs, err)
				continue
			}
			switch outcome {
			case matchTriggered:
				matchCounter.WithLabelValues("triggered").Inc()
				res.Triggered = append(res.Triggered, p)
			case matchNotPolling:
				matchCounter.WithLabelValues("not_polling").Inc()
				res.NonPolling = append(res.NonPolling, p)
			}
		}
		return nil
	})
	if err != nil {
		l.WithError(err).Error("project scan failed")
		errs = multierror.Append(errs, err)
	}
	sortByName(res.Triggered)
	sortByName(res.NonPolling)
	res.Err = errs.ErrorOrNil()
	return res
}

// listAll lists the directory, turning a panic into an error.
func (s *scanner) listAll(ctx context.Context) (projects []Project, err error) {
	defer func() {
		if r := recover(); r != nil {
			projects, err = nil, fmt.Errorf("%v", r)
		}
	}()
	return s.dir.ListAll(ctx)
}

// inspect matches one project and runs its trigger on a match. A
// project matching through several SCMs is triggered once.
func (s *scanner) inspect(p Project, want string, l *logrus.Entry) (outcome matchOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome, err = noMatch, fmt.Errorf("inspecting project: %v", r)
		}
	}()

	name := p.FullDisplayName()
	l = l.WithField("project", name)
	l.Debug("checking project")
	if p.Disabled() {
		return noMatch, nil
	}
	for _, scm := range resolveSCMs(p, s.multipleSCMs) {
		b := scm.Browser
		if b == nil || b.Kind != GitoriousWeb {
			continue
		}
		if _, err := url.Parse(b.URL); err != nil {
			return noMatch, errors.Wrapf(err, "project %q: invalid gitorious browser URL", name)
		}
		l.WithField("gitoriousUrl", b.URL).Trace("gitorious browser")
		if b.URL != want {
			continue
		}
		t := p.PollTrigger()
		if t == nil {
			l.Info("polling not enabled")
			return matchNotPolling, nil
		}
		l.Info("triggering polling")
		t.Run()
		return matchTriggered, nil
	}
	return noMatch, nil
}

func sortByName(ps []Project) {
	sort.SliceStable(ps, func(i, j int) bool {
		return ps[i].FullDisplayName() < ps[j].FullDisplayName()
	})
}
