package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

// TriggeredHeader names a project whose polling a push scheduled.
const TriggeredHeader = "Triggered"

func init() {
	Strategies[ScanStrategy] = handleGitoriousScan
	Strategies[RewriteStrategy] = handleGitoriousRewrite
}

// handleGitoriousScan notifies both clone URLs Gitorious may serve the
// repository from, then polls the projects browsing it.
func handleGitoriousScan(recv *Receiver, w http.ResponseWriter, r *http.Request, payload string, l *logrus.Entry) {
	push, err := ParsePushPayload(payload, false)
	if err != nil {
		http.Error(w, "Unable to parse hook payload", http.StatusBadRequest)
		l.WithError(err).Warn("unable to parse payload")
		return
	}
	l = l.WithField("repository", push.RepositoryURL)
	l.WithFields(logrus.Fields{"pushedBy": push.PushedBy, "after": push.After}).Debug("push")

	ctx, cancel := context.WithTimeout(withPrincipal(r.Context(), Anonymous), timeout)
	defer cancel()

	gitURL, baseURL := hostPrefixedCandidates(push.RepositoryURL)
	var relayed []*Response
	for _, url := range []string{gitURL, baseURL} {
		l.WithField("url", url).Debug("notifying")
		res, err := recv.Notifier.NotifyPush(ctx, url, "")
		if err != nil {
			downstreamError(ctx, w, l, err)
			return
		}
		relayed = append(relayed, res)
	}

	result := recv.Scanner.scan(ctx, push.RepositoryURL, l)
	writeScanResponse(w, relayed, result)
}

// handleGitoriousRewrite notifies the git:// clone URL for the pushed
// ref and answers with whatever the notifier answered.
func handleGitoriousRewrite(recv *Receiver, w http.ResponseWriter, r *http.Request, payload string, l *logrus.Entry) {
	push, err := ParsePushPayload(payload, true)
	if err != nil {
		http.Error(w, "Unable to parse hook payload", http.StatusBadRequest)
		l.WithError(err).Warn("unable to parse payload")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	url := schemeRewrittenCandidate(push.RepositoryURL)
	l = l.WithFields(logrus.Fields{"url": url, "ref": push.Ref})
	l.Debug("notifying")
	res, err := recv.Notifier.NotifyPush(ctx, url, push.Ref)
	if err != nil {
		downstreamError(ctx, w, l, err)
		return
	}
	res.relay(w)
}

func downstreamError(ctx context.Context, w http.ResponseWriter, l *logrus.Entry, err error) {
	select {
	case <-ctx.Done():
		http.Error(w, "Timed out waiting for response from downstream API", http.StatusRequestTimeout)
		l.WithError(err).Error("timed out")
	default:
		http.Error(w, "Error while calling downstream API", http.StatusInternalServerError)
		l.WithError(err).Error("error from downstream")
	}
}

// writeScanResponse replays the notifier responses, then lists the
// projects the scan found.
func writeScanResponse(w http.ResponseWriter, relayed []*Response, result scanResult) {
	h := w.Header()
	for _, res := range relayed {
		res.copyHeaders(h)
	}
	h.Set("Content-Type", "text/plain")
	for _, p := range result.Triggered {
		h.Add(TriggeredHeader, p.FullDisplayName())
	}
	w.WriteHeader(http.StatusOK)

	for _, res := range relayed {
		w.Write(res.Body)
	}
	for _, p := range result.Triggered {
		fmt.Fprintf(w, "Scheduled polling of %s\n", p.FullDisplayName())
	}
	for _, p := range result.NonPolling {
		fmt.Fprintf(w, "Found \"%s\" but it is not configured for polling.\n", p.FullDisplayName())
	}
}
