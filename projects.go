package main

import (
	"context"
	"sort"
)

type SCMKind string

const (
	GitSCM SCMKind = "git"
	// MultipleSCM groups several SCMs in one project.
	MultipleSCM SCMKind = "multiple"
)

type BrowserKind string

const GitoriousWeb BrowserKind = "gitoriousweb"

type RepositoryBrowser struct {
	Kind BrowserKind
	URL  string
}

// SCM is one source control configuration of a project. SCMs is only
// set for MultipleSCM.
type SCM struct {
	Kind    SCMKind
	Remote  string
	Branch  string
	Browser *RepositoryBrowser
	SCMs    []SCM
}

// PollTrigger schedules a poll of a project's SCM. Run does not wait
// for the poll.
type PollTrigger interface {
	Run()
}

// Project is a build project owned by the host.
type Project interface {
	FullDisplayName() string
	Disabled() bool
	SCM() SCM
	// PollTrigger is nil when the project is not configured for polling.
	PollTrigger() PollTrigger
}

type ProjectDirectory interface {
	ListAll(ctx context.Context) ([]Project, error)
}

type configProject struct {
	name       string
	disabled   bool
	restricted bool
	scm        SCM
	trigger    PollTrigger
}

func (p *configProject) FullDisplayName() string { return p.name }
func (p *configProject) Disabled() bool { return p.disabled }
func (p *configProject) SCM() SCM { return p.scm }
func (p *configProject) PollTrigger() PollTrigger { return p.trigger }

// configDirectory serves the projects from the config file. Restricted
// projects are only listed to System.
type configDirectory struct {
	projects []*configProject
}

func (d *configDirectory) ListAll(ctx context.Context) ([]Project, error) {
	system := principalFrom(ctx) == System
	var out []Project
	for _, p := range d.projects {
		if p.restricted && !system {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func scmFromConfig(c SCMConfig) SCM {
	s := SCM{
		Kind:   SCMKind(c.Kind),
		Remote: c.Remote,
		Branch: c.Branch,
	}
	if c.Browser != nil {
		// browsers keep their base URL with a trailing slash
		s.Browser = &RepositoryBrowser{Kind: BrowserKind(c.Browser.Kind), URL: browserFormattedURL(c.Browser.URL)}
	}
	for _, child := range c.SCMs {
		s.SCMs = append(s.SCMs, scmFromConfig(child))
	}
	return s
}

// DirectoryFromConfig builds the project directory. Projects with a
// poll section get a trigger from the poller.
func DirectoryFromConfig(projects []ProjectConfig, poller *Poller) (*configDirectory, error) {
	d := &configDirectory{}
	for _, pc := range projects {
		p := &configProject{
			name:       pc.Name,
			disabled:   pc.Disabled,
			restricted: pc.Restricted,
			scm:        scmFromConfig(pc.SCM),
		}
		if pc.Poll != nil && poller != nil {
			t, err := poller.Register(p, pc.Poll.Schedule)
			if err != nil {
				return nil, err
			}
			p.trigger = t
		}
		d.projects = append(d.projects, p)
	}
	sort.Slice(d.projects, func(i, j int) bool {
		return d.projects[i].name < d.projects[j].name
	})
	return d, nil
}
