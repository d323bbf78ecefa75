// SPDX-License-Identifier: Apache-2.0

package connector

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// GitHubConnector is the issue-tracker adapter. Phase notifications become
// issue comments or issues on the configured repository; Get lists open
// issues for agent context.
type GitHubConnector struct {
	name   string
	token  string
	owner  string
	repo   string
	client *github.Client
}

type GitHubOptions struct {
	Name  string
	Token string
	Owner string
	Repo  string
}

func NewGitHubConnector(opts GitHubOptions) *GitHubConnector {
	return &GitHubConnector{
		name:  opts.Name,
		token: strings.TrimSpace(opts.Token),
		owner: opts.Owner,
		repo:  opts.Repo,
	}
}

func (c *GitHubConnector) Name() string { return c.name }
func (c *GitHubConnector) Type() Type   { return TypeIssueTracker }

func (c *GitHubConnector) Connect(ctx context.Context) Response {
	if c.token == "" {
		return Fail(errors.New("github token not set"))
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.token})
	c.client = github.NewClient(oauth2.NewClient(ctx, ts))
	return OK(map[string]any{"owner": c.owner, "repo": c.repo})
}

func (c *GitHubConnector) Disconnect(ctx context.Context) Response {
	c.client = nil
	return OK(nil)
}

func (c *GitHubConnector) HealthCheck(ctx context.Context) Response {
	if c.client == nil {
		return Fail(errors.New("github connector is not connected"))
	}
	repo, resp, err := c.client.Repositories.Get(ctx, c.owner, c.repo)
	if err != nil {
		return FailStatus(err, httpStatus(resp))
	}
	return OK(map[string]any{"repo": repo.GetFullName(), "default_branch": repo.GetDefaultBranch()})
}

func (c *GitHubConnector) Get(ctx context.Context, params map[string]any) Response {
	if c.client == nil {
		return Fail(errors.New("github connector is not connected"))
	}

	opts := &github.IssueListByRepoOptions{State: "open"}
	if labels, ok := params["labels"].(string); ok && labels != "" {
		opts.Labels = strings.Split(labels, ",")
	}

	issues, resp, err := c.client.Issues.ListByRepo(ctx, c.owner, c.repo, opts)
	if err != nil {
		return FailStatus(err, httpStatus(resp))
	}

	items := make([]map[string]any, 0, len(issues))
	for _, issue := range issues {
		items = append(items, map[string]any{
			"number": issue.GetNumber(),
			"title":  issue.GetTitle(),
			"state":  issue.GetState(),
		})
	}
	return OK(map[string]any{"issues": items})
}

func (c *GitHubConnector) Send(ctx context.Context, payload map[string]any) Response {
	if c.client == nil {
		return Fail(errors.New("github connector is not connected"))
	}

	title, _ := payload["title"].(string)
	if title == "" {
		title = fmt.Sprintf("Workflow update: %v", payload["phase"])
	}
	body, _ := payload["text"].(string)

	issue, resp, err := c.client.Issues.Create(ctx, c.owner, c.repo, &github.IssueRequest{
		Title: github.String(title),
		Body:  github.String(body),
	})
	if err != nil {
		return FailStatus(err, httpStatus(resp))
	}
	return OK(map[string]any{"number": issue.GetNumber(), "url": issue.GetHTMLURL()})
}

func httpStatus(resp *github.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}
