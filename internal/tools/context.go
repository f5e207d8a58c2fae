package tools

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// DetectCreator names the MCP caller for task attribution.
// Priority: QUIZPROC_CREATED_BY > git origin repo > cwd basename.
func DetectCreator() string {
	if v := os.Getenv("QUIZPROC_CREATED_BY"); v != "" {
		return v
	}
	if origin := getGitOriginName(); origin != "" {
		return "mcp:" + origin
	}
	if cwd, err := os.Getwd(); err == nil {
		return "mcp:" + filepath.Base(cwd)
	}
	return "mcp"
}

// getGitOriginName extracts repo name from git remote origin URL.
func getGitOriginName() string {
	output, err := exec.Command("git", "config", "--get", "remote.origin.url").Output()
	if err != nil {
		return ""
	}
	return parseRepoName(strings.TrimSpace(string(output)))
}

// parseRepoName extracts the repo name from
// git@github.com:owner/repo.git or https://github.com/owner/repo.git.
func parseRepoName(url string) string {
	url = strings.TrimSuffix(url, ".git")
	switch {
	case strings.HasPrefix(url, "git@"):
		_, path, ok := strings.Cut(url, ":")
		if !ok {
			return ""
		}
		return path[strings.LastIndex(path, "/")+1:]
	case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		return url[strings.LastIndex(url, "/")+1:]
	}
	return ""
}
