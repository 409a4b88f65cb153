package main

import "strings"

// hostPrefixedCandidates returns the clone URLs to try for a pushed
// repository. Gitorious serves HTTP clones from a "git." subdomain but
// reports the web URL in its payload, so both are notified.
func hostPrefixedCandidates(repoURL string) (gitURL, baseURL string) {
	gitURL = strings.Replace(repoURL, "://", "://git.", 1) + ".git"
	baseURL = repoURL + ".git"
	return gitURL, baseURL
}

// schemeRewrittenCandidate turns the https web URL into the git://
// clone URL.
func schemeRewrittenCandidate(repoURL string) string {
	if strings.HasPrefix(repoURL, "https://") {
		repoURL = "git://" + strings.TrimPrefix(repoURL, "https://")
	}
	return repoURL + ".git"
}

// browserFormattedURL is repoURL as a repository browser stores it,
// always with a trailing slash.
func browserFormattedURL(repoURL string) string {
	if !strings.HasSuffix(repoURL, "/") {
		return repoURL + "/"
	}
	return repoURL
}
