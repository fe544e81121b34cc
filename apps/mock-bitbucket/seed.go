package main

import (
	"fmt"

	"github.com/tilsley/treereader/pkg/treereader/bitbuckettest"
)

// seedRepos populates the fake with a documentation repo, a runbook repo
// with enough release branches to span several branch-list pages, and a
// repo without a default branch.
func seedRepos(fake *bitbuckettest.Server) {
	push(fake, "PLAT", "handbook", "main", true, handbookFiles("Platform Handbook"))
	push(fake, "PLAT", "handbook", "feature/onboarding", false, withFile(handbookFiles("Platform Handbook"),
		"docs/onboarding/index.md", "# Onboarding\n\nStart here.\n"))

	push(fake, "OPS", "runbooks", "master", true, runbookFiles("current"))
	for i := 1; i <= 40; i++ {
		version := fmt.Sprintf("release/%d.%d", 1+i/10, i%10)
		push(fake, "OPS", "runbooks", version, false, runbookFiles(version))
	}

	push(fake, "LAB", "scratch", "experiment", false, map[string]string{
		"notes/index.md": "# Scratch\n",
	})
}

func push(fake *bitbuckettest.Server, project, repo, branch string, def bool, files map[string]string) {
	fake.SetBranch(project, repo, bitbuckettest.Branch{
		Name: branch, Commit: commitID(branch, files), Default: def, Files: files,
	})
}

func withFile(files map[string]string, path, content string) map[string]string {
	out := make(map[string]string, len(files)+1)
	for k, v := range files {
		out[k] = v
	}
	out[path] = content
	return out
}

func handbookFiles(title string) map[string]string {
	return map[string]string{
		"README.md":                    "# " + title + "\n",
		"mkdocs.yml":                   "site_name: " + title + "\ndocs_dir: docs\n",
		"docs/index.md":                "# " + title + "\n\nWelcome.\n",
		"docs/guides/index.md":         "# Guides\n",
		"docs/guides/deploying.md":     "# Deploying\n\nUse the pipeline.\n",
		"docs/guides/img/pipeline.png": "\x89PNG\r\n\x1a\n",
		"docs/reference/api.md":        "# API reference\n",
		"docs/reference/.pages":        "title: Reference\n",
		"docs/reference/cli/index.md":  "# CLI\n",
		"docs/reference/cli/flags.md":  "# Flags\n",
	}
}

func runbookFiles(version string) map[string]string {
	return map[string]string{
		"docs/index.md":            "# Runbooks (" + version + ")\n",
		"docs/oncall/index.md":     "# On-call\n",
		"docs/oncall/paging.md":    "# Paging\n",
		"docs/incidents/index.md":  "# Incidents\n",
		"docs/incidents/review.md": "# Post-incident review\n",
	}
}
