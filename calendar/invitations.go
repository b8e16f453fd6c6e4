package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/davbridge/davbridge/davclient"
	"github.com/davbridge/davbridge/ical"
	"github.com/davbridge/davbridge/internal/httpclient"
)

// Invitation is an event the user was invited to but has not answered yet.
// Raw carries the body for re-serialization when responding.
type Invitation struct {
	UID       string
	Summary   string
	Organizer string
	Start     time.Time
	End       time.Time
	PartStat  string
	Raw       string
	ETag      string
	URL       string
}

// PartStat values accepted by RespondToInvitation.
const (
	PartStatAccepted  = "ACCEPTED"
	PartStatDeclined  = "DECLINED"
	PartStatTentative = "TENTATIVE"
)

// scheduleInbox resolves the per-user scheduling inbox once and remembers the
// outcome; servers without scheduling support leave the feature off.
func (s *Service) scheduleInbox(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.inboxProbed {
		defer s.mu.Unlock()
		return s.inbox, nil
	}
	s.mu.Unlock()

	inbox, err := s.client.DiscoverScheduleInbox(ctx)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.inbox = inbox
	s.inboxProbed = true
	s.mu.Unlock()
	return inbox, nil
}

// ListInvitations returns the pending invitations for userEmail: events in
// the scheduling inbox where the user's ATTENDEE entry still carries
// PARTSTAT=NEEDS-ACTION (or none). Servers without a scheduling inbox yield
// an empty list.
func (s *Service) ListInvitations(ctx context.Context, userEmail string) ([]Invitation, error) {
	inbox, err := s.scheduleInbox(ctx)
	if err != nil {
		return nil, err
	}
	if inbox == "" {
		s.logger.Debug("scheduling inbox unavailable; invitation features disabled")
		return nil, nil
	}

	objects, err := s.queryObjects(ctx, inbox, nil)
	if err != nil {
		return nil, err
	}

	var invitations []Invitation
	for _, obj := range objects {
		rec, err := ical.Transform(obj.Data, obj.URL, obj.ETag)
		if err != nil {
			s.logger.Debug("skipping unparseable inbox object", "url", obj.URL, "error", err)
			continue
		}

		partstat, attending := attendeeStatus(rec, userEmail)
		if !attending || answered(partstat) {
			continue
		}

		invitations = append(invitations, Invitation{
			UID:       rec.UID,
			Summary:   rec.Summary,
			Organizer: rec.Organizer,
			Start:     rec.Start,
			End:       rec.End,
			PartStat:  partstat,
			Raw:       rec.Raw,
			ETag:      rec.ETag,
			URL:       rec.URL,
		})
	}

	s.logger.Info("listed pending invitations", "count", len(invitations))
	return invitations, nil
}

// RespondToInvitation rewrites the user's PARTSTAT in the stored object and
// puts it back under If-Match.
func (s *Service) RespondToInvitation(ctx context.Context, inv Invitation, userEmail, partstat string) error {
	switch strings.ToUpper(partstat) {
	case PartStatAccepted, PartStatDeclined, PartStatTentative:
	default:
		return fmt.Errorf("invalid participation status %q; expected ACCEPTED, DECLINED or TENTATIVE", partstat)
	}

	updated, err := ical.UpdatePartStat(inv.Raw, userEmail, partstat)
	if err != nil {
		return fmt.Errorf("failed to update participation status: %w", err)
	}

	_, err = s.put(ctx, "respond-invitation", inv.URL, updated, httpclient.IfMatch, inv.ETag)
	if err != nil {
		var conflict *davclient.ConflictError
		if errors.As(err, &conflict) {
			conflict.Resource = davclient.ResourceInvitation
		}
		return err
	}

	s.cache.Invalidate(collectionOf(inv.URL))
	s.logger.Info("responded to invitation",
		"uid", inv.UID,
		"partstat", strings.ToUpper(partstat))
	return nil
}

func attendeeStatus(rec *ical.EventRecord, userEmail string) (string, bool) {
	for _, att := range rec.Attendees {
		if strings.EqualFold(att.Email, userEmail) {
			return strings.ToUpper(att.PartStat), true
		}
	}
	return "", false
}

func answered(partstat string) bool {
	switch partstat {
	case PartStatAccepted, PartStatDeclined, PartStatTentative:
		return true
	}
	return false
}
