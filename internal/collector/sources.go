package collector

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"

	"github.com/vulnsentinel/vulnsentinel/internal/models"
)

// commitsToEvents maps branch commits to event rows. Merge commits (more
// than one parent) are dropped: the PR-merge source covers them with better
// metadata, and their messages duplicate the merged commits'.
func commitsToEvents(libraryID, owner, repo string, commits []*github.RepositoryCommit) []*models.Event {
	events := make([]*models.Event, 0, len(commits))
	for _, c := range commits {
		if len(c.Parents) > 1 {
			continue
		}
		message := c.GetCommit().GetMessage()
		ev := &models.Event{
			LibraryID: libraryID,
			Type:      models.EventCommit,
			Ref:       c.GetSHA(),
			SourceURL: strPtr(c.GetHTMLURL()),
			Author:    commitAuthor(c),
			Title:     firstLine(message),
			Message:   strPtr(message),
			EventAt:   commitTime(c),
		}
		if ref, ok := ExtractRef(message); ok {
			ev.RelatedIssueRef = strPtr(ref)
			ev.RelatedIssueURL = strPtr(IssueURL(owner, repo, ref))
		}
		events = append(events, ev)
	}
	return events
}

// prsToEvents keeps only PRs merged after the boundary. The closed listing
// includes rejected PRs and ones merged long ago but recently commented on.
func prsToEvents(libraryID, owner, repo string, prs []*github.PullRequest, since time.Time) []*models.Event {
	events := make([]*models.Event, 0, len(prs))
	for _, pr := range prs {
		mergedAt := pr.GetMergedAt().Time
		if pr.MergedAt == nil || !mergedAt.After(since) {
			continue
		}
		ref := strconv.Itoa(pr.GetNumber())
		ev := &models.Event{
			LibraryID:    libraryID,
			Type:         models.EventPRMerge,
			Ref:          ref,
			SourceURL:    strPtr(pr.GetHTMLURL()),
			Author:       strPtr(pr.GetUser().GetLogin()),
			Title:        pr.GetTitle(),
			Message:      strPtr(pr.GetBody()),
			RelatedPRRef: strPtr("#" + ref),
			RelatedPRURL: strPtr(PRURL(owner, repo, "#"+ref)),
			EventAt:      mergedAt,
		}
		if sha := pr.GetMergeCommitSHA(); sha != "" {
			ev.RelatedCommitSHA = strPtr(sha)
		}
		events = append(events, ev)
	}
	return events
}

// tagsToEvents maps release tags. The tags endpoint carries no timestamps,
// so event_at is the observation time.
func tagsToEvents(libraryID string, tags []*github.RepositoryTag, observedAt time.Time) []*models.Event {
	events := make([]*models.Event, 0, len(tags))
	for _, tag := range tags {
		ev := &models.Event{
			LibraryID: libraryID,
			Type:      models.EventTag,
			Ref:       tag.GetName(),
			Title:     tag.GetName(),
			EventAt:   observedAt,
		}
		if sha := tag.GetCommit().GetSHA(); sha != "" {
			ev.RelatedCommitSHA = strPtr(sha)
		}
		events = append(events, ev)
	}
	return events
}

// issuesToEvents maps bug-labeled issues.
func issuesToEvents(libraryID, owner, repo string, issues []*github.Issue) []*models.Event {
	events := make([]*models.Event, 0, len(issues))
	for _, issue := range issues {
		ref := strconv.Itoa(issue.GetNumber())
		events = append(events, &models.Event{
			LibraryID:       libraryID,
			Type:            models.EventBugIssue,
			Ref:             ref,
			SourceURL:       strPtr(issue.GetHTMLURL()),
			Author:          strPtr(issue.GetUser().GetLogin()),
			Title:           issue.GetTitle(),
			Message:         strPtr(issue.GetBody()),
			RelatedIssueRef: strPtr("#" + ref),
			RelatedIssueURL: strPtr(IssueURL(owner, repo, "#"+ref)),
			EventAt:         issue.GetCreatedAt().Time,
		})
	}
	return events
}

func commitAuthor(c *github.RepositoryCommit) *string {
	if login := c.GetAuthor().GetLogin(); login != "" {
		return strPtr(login)
	}
	if name := c.GetCommit().GetAuthor().GetName(); name != "" {
		return strPtr(name)
	}
	return nil
}

func commitTime(c *github.RepositoryCommit) time.Time {
	if t := c.GetCommit().GetAuthor().GetDate().Time; !t.IsZero() {
		return t
	}
	return c.GetCommit().GetCommitter().GetDate().Time
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(line)
}

func strPtr(s string) *string { return &s }
