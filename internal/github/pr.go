package github

import (
	"context"
	"errors"
	"fmt"
	"issuegate/internal/failure"
	"net/http"
	"strings"

	"github.com/google/go-github/v81/github"
)

// PullRequestTitle fetches the title of owner/repo#number.
// Failures are *failure.AccessError.
func (c *Client) PullRequestTitle(ctx context.Context, owner, repo string, number int) (string, error) {
	ref := fmt.Sprintf("%s/%s#%d", owner, repo, number)
	if c == nil || c.Client == nil {
		return "", fmt.Errorf("github client is nil")
	}

	pr, _, err := c.Client.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return "", accessError(ref, err)
	}
	return pr.GetTitle(), nil
}

// accessError prefers go-github's structured error so the request URL is not
// repeated in the message.
func accessError(ref string, err error) error {
	ae := &failure.AccessError{Resource: "pull request", Key: ref}

	var er *github.ErrorResponse
	if errors.As(err, &er) {
		if er.Response != nil {
			ae.StatusCode = er.Response.StatusCode
		}
		ae.Detail = strings.TrimSpace(er.Message)
		if ae.Detail == "" && ae.StatusCode != 0 {
			ae.Detail = http.StatusText(ae.StatusCode)
		}
		return ae
	}

	ae.Err = err
	return ae
}
