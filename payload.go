package main

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// ErrMalformedPayload is the cause of every error ParsePushPayload
// returns. Callers answer it with a client error.
var ErrMalformedPayload = errors.New("malformed payload")

// PushPayload is a Gitorious push event. Only Repository.URL and Ref
// drive behaviour; the rest is kept for logging.
//
// Sample:
//
//	{
//	  "after": "ea1bb8447464a2fbc6dfa48867eb0f462ac3aad1",
//	  "before": "4c6331eac279eccd9401491fb8df7c61358590c0",
//	  "commits": [ ... ],
//	  "project": { "name": "provisioning", ... },
//	  "pushed_at": "2012-09-27T23:15:05-04:00",
//	  "pushed_by": "smoyer",
//	  "ref": "master",
//	  "repository": {
//	    "name": "mp-chef",
//	    "owner": { "name": "smoyer" },
//	    "url": "https://gitorious.example.com/provisioning/mp-chef"
//	  }
//	}
type PushPayload struct {
	RepositoryURL string
	Ref           string
	Before        string
	After         string
	PushedBy      string
	Commits       int
}

type rawPushPayload struct {
	Repository *json.RawMessage  `json:"repository"`
	Ref        *json.RawMessage  `json:"ref"`
	Before     string            `json:"before"`
	After      string            `json:"after"`
	PushedBy   string            `json:"pushed_by"`
	Commits    []json.RawMessage `json:"commits"`
}

func malformed(format string, args ...interface{}) error {
	return errors.Wrapf(ErrMalformedPayload, format, args...)
}

// ParsePushPayload decodes raw and extracts repository.url, and ref
// when requireRef is set. Extra fields are ignored.
func ParsePushPayload(raw string, requireRef bool) (PushPayload, error) {
	var p PushPayload

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err != nil || obj == nil {
		return p, malformed("payload is not a JSON object")
	}

	var fields rawPushPayload
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		// informational fields of the wrong type are not fatal
		fields = rawPushPayload{}
		if r, ok := obj["repository"]; ok {
			fields.Repository = &r
		}
		if r, ok := obj["ref"]; ok {
			fields.Ref = &r
		}
	}

	if fields.Repository == nil {
		return p, malformed("missing repository")
	}
	var repo map[string]json.RawMessage
	if err := json.Unmarshal(*fields.Repository, &repo); err != nil || repo == nil {
		return p, malformed("repository is not an object")
	}
	rawURL, ok := repo["url"]
	if !ok {
		return p, malformed("missing repository.url")
	}
	if err := json.Unmarshal(rawURL, &p.RepositoryURL); err != nil || string(rawURL) == "null" {
		return p, malformed("repository.url is not a string")
	}

	if fields.Ref != nil && string(*fields.Ref) != "null" {
		if err := json.Unmarshal(*fields.Ref, &p.Ref); err != nil {
			if requireRef {
				return p, malformed("ref is not a string")
			}
			p.Ref = ""
		}
	} else if requireRef {
		return p, malformed("missing ref")
	}

	p.Before = fields.Before
	p.After = fields.After
	p.PushedBy = fields.PushedBy
	p.Commits = len(fields.Commits)
	return p, nil
}
