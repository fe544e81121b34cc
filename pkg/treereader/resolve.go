package treereader

import (
	"fmt"
	"strings"
)

// FingerprintLen is the number of commit-id characters kept in a fingerprint.
const FingerprintLen = 12

// SelectBranch picks the branch a ref refers to.
//
// A non-empty ref matches a branch's DisplayID exactly, or its fully qualified
// ID ("refs/heads/main"). An empty ref selects the branch the host marks as
// default; if none is marked, a RefNotFoundError with an empty Ref is returned.
func SelectBranch(loc Location, branches []Branch) (Branch, error) {
	if loc.Ref == "" {
		for _, b := range branches {
			if b.IsDefault {
				return b, nil
			}
		}
		return Branch{}, RefNotFoundError{Project: loc.Project, Repo: loc.Repo}
	}

	for _, b := range branches {
		if b.DisplayID == loc.Ref {
			return b, nil
		}
	}
	for _, b := range branches {
		if b.ID == loc.Ref {
			return b, nil
		}
	}
	return Branch{}, RefNotFoundError{Project: loc.Project, Repo: loc.Repo, Ref: loc.Ref}
}

// ShortFingerprint truncates a commit id to FingerprintLen characters.
// The id must be at least that long and hexadecimal.
func ShortFingerprint(commit string) (string, error) {
	if len(commit) < FingerprintLen {
		return "", fmt.Errorf("commit id %q shorter than %d characters", commit, FingerprintLen)
	}
	if i := strings.IndexFunc(commit, func(r rune) bool { return !isHex(r) }); i >= 0 {
		return "", fmt.Errorf("commit id %q is not hexadecimal", commit)
	}
	return commit[:FingerprintLen], nil
}

func isHex(r rune) bool {
	return ('0' <= r && r <= '9') || ('a' <= r && r <= 'f') || ('A' <= r && r <= 'F')
}
