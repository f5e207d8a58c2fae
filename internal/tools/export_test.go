package tools

var ParseRepoName = parseRepoName
