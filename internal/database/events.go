package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vulnsentinel/vulnsentinel/internal/models"
)

const eventColumns = `id, library_id, type, ref, source_url, author, title, message,
	related_issue_ref, related_issue_url, related_pr_ref, related_pr_url, related_commit_sha,
	event_at, classification, confidence, is_bugfix, created_at, updated_at`

// InsertEvents batch-inserts observations. (library_id, type, ref) conflicts
// are skipped, so running the collector twice yields zero net inserts.
// Returns the number of rows actually written.
func (s *Store) InsertEvents(ctx context.Context, events []*models.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO events (library_id, type, ref, source_url, author, title, message,
			related_issue_ref, related_issue_url, related_pr_ref, related_pr_url,
			related_commit_sha, event_at)
		VALUES (:library_id, :type, :ref, :source_url, :author, :title, :message,
			:related_issue_ref, :related_issue_url, :related_pr_ref, :related_pr_url,
			:related_commit_sha, :event_at)
		ON CONFLICT (library_id, type, ref) DO NOTHING`,
		events)
	if err != nil {
		return 0, fmt.Errorf("failed to insert events: %w", err)
	}
	inserted, _ := res.RowsAffected()
	return int(inserted), nil
}

// ListUnclassifiedEvents returns events awaiting classification, oldest
// first so backlog drains in arrival order.
func (s *Store) ListUnclassifiedEvents(ctx context.Context, limit int) ([]*models.Event, error) {
	var events []*models.Event
	err := s.db.SelectContext(ctx, &events, `
		SELECT `+eventColumns+` FROM events
		WHERE classification IS NULL
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unclassified events: %w", err)
	}
	return events, nil
}

// SetClassification writes the classifier verdict. is_bugfix is derived
// here so it can never disagree with the label. Last writer wins; the
// result is deterministic for a given event, so the rare double-pick race
// between two ticks is harmless.
func (s *Store) SetClassification(ctx context.Context, eventID string, class models.Classification, confidence float64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE events
		SET classification = $2,
		    confidence     = $3,
		    is_bugfix      = ($2 = 'security_bugfix'::event_classification)
		WHERE id = $1`,
		eventID, class, confidence)
	if err != nil {
		return fmt.Errorf("failed to set classification: %w", err)
	}
	return nil
}

// ListBugfixEventsNeedingAnalysis returns security bugfixes with no
// upstream_vulns row yet. The analyzer's placeholder insert makes an event
// invisible to the next poll even while analysis is in flight.
func (s *Store) ListBugfixEventsNeedingAnalysis(ctx context.Context, limit int) ([]*models.Event, error) {
	var events []*models.Event
	err := s.db.SelectContext(ctx, &events, `
		SELECT `+eventColumns+` FROM events e
		WHERE e.is_bugfix
		  AND NOT EXISTS (SELECT 1 FROM upstream_vulns uv WHERE uv.event_id = e.id)
		ORDER BY e.created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list bugfix events: %w", err)
	}
	return events, nil
}

// GetEvent loads one event by ID.
func (s *Store) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	var e models.Event
	err := s.db.GetContext(ctx, &e,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return &e, nil
}

// ListEventsByLibrary returns a cursor page of a library's events.
func (s *Store) ListEventsByLibrary(ctx context.Context, libraryID string, codec *CursorCodec, after *Cursor, limit int) (Page[*models.Event], error) {
	var events []*models.Event
	var err error
	if after != nil {
		err = s.db.SelectContext(ctx, &events, `
			SELECT `+eventColumns+` FROM events
			WHERE library_id = $1 AND (created_at, id) < ($2, $3::uuid)
			ORDER BY created_at DESC, id DESC LIMIT $4`,
			libraryID, after.CreatedAt, after.ID, limit+1)
	} else {
		err = s.db.SelectContext(ctx, &events, `
			SELECT `+eventColumns+` FROM events
			WHERE library_id = $1
			ORDER BY created_at DESC, id DESC LIMIT $2`,
			libraryID, limit+1)
	}
	if err != nil {
		return Page[*models.Event]{}, fmt.Errorf("failed to list events: %w", err)
	}
	return pageFrom(events, limit, codec, func(e *models.Event) Cursor {
		return Cursor{CreatedAt: e.CreatedAt, ID: e.ID}
	}), nil
}
