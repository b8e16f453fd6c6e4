package calendar

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
)

// inboxHandler serves the discovery chain for the scheduling inbox plus its
// contents.
func inboxHandler(t *testing.T, inboxObjects map[string]string, onPut func(body string)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "PROPFIND":
			w.WriteHeader(http.StatusMultiStatus)
			if strings.Contains(r.URL.Path, "principals") {
				io.WriteString(w, `<?xml version="1.0"?>
<D:multistatus xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
<D:response><D:href>/principals/alice/</D:href><D:propstat><D:prop>
<C:schedule-inbox-URL><D:href>/schedule/alice/inbox/</D:href></C:schedule-inbox-URL>
</D:prop><D:status>HTTP/1.1 200 OK</D:status></D:propstat></D:response></D:multistatus>`)
				return
			}
			io.WriteString(w, `<?xml version="1.0"?>
<D:multistatus xmlns:D="DAV:">
<D:response><D:href>/</D:href><D:propstat><D:prop>
<D:current-user-principal><D:href>/principals/alice/</D:href></D:current-user-principal>
</D:prop><D:status>HTTP/1.1 200 OK</D:status></D:propstat></D:response></D:multistatus>`)
		case "REPORT":
			w.WriteHeader(http.StatusMultiStatus)
			io.WriteString(w, calendarDataMultistatus(inboxObjects))
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			if onPut != nil {
				onPut(string(body))
			}
			w.Header().Set("ETag", `"after-response"`)
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected method %s", r.Method)
		}
	})
}

func invitationICS(uid, partstat string) string {
	attendee := "ATTENDEE;CN=Alice;PARTSTAT=" + partstat + ":mailto:alice@example.com"
	if partstat == "" {
		attendee = "ATTENDEE;CN=Alice:mailto:alice@example.com"
	}
	return eventICS(uid, "Project kickoff", "20260310T100000Z", "20260310T110000Z",
		"ORGANIZER:mailto:boss@example.com",
		attendee,
		"ATTENDEE;CN=Bob;PARTSTAT=ACCEPTED:mailto:bob@example.com",
	)
}

func TestListInvitations(t *testing.T) {
	objects := map[string]string{
		"/schedule/alice/inbox/i1.ics": invitationICS("inv-1", "NEEDS-ACTION"),
		"/schedule/alice/inbox/i2.ics": invitationICS("inv-2", "ACCEPTED"),
		"/schedule/alice/inbox/i3.ics": invitationICS("inv-3", ""),
	}

	s, _ := newTestService(t, inboxHandler(t, objects, nil))

	invitations, err := s.ListInvitations(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("ListInvitations() error = %v", err)
	}

	// inv-2 is already answered; inv-1 (NEEDS-ACTION) and inv-3 (no PARTSTAT)
	// are pending.
	if len(invitations) != 2 {
		t.Fatalf("len(invitations) = %d, want 2", len(invitations))
	}
	uids := map[string]bool{}
	for _, inv := range invitations {
		uids[inv.UID] = true
		if inv.Organizer != "boss@example.com" {
			t.Errorf("Organizer = %q", inv.Organizer)
		}
	}
	if !uids["inv-1"] || !uids["inv-3"] {
		t.Errorf("pending UIDs = %v", uids)
	}
}

// Without a scheduling inbox the invitation feature is silently off.
func TestListInvitationsNoInbox(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMultiStatus)
		io.WriteString(w, `<?xml version="1.0"?>
<D:multistatus xmlns:D="DAV:">
<D:response><D:href>/</D:href><D:propstat><D:prop>
<D:current-user-principal><D:href>/principals/alice/</D:href></D:current-user-principal>
</D:prop><D:status>HTTP/1.1 200 OK</D:status></D:propstat></D:response></D:multistatus>`)
	})

	s, _ := newTestService(t, handler)
	invitations, err := s.ListInvitations(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("ListInvitations() error = %v", err)
	}
	if invitations != nil {
		t.Errorf("invitations = %v, want nil", invitations)
	}
}

func TestRespondToInvitation(t *testing.T) {
	var putBody string
	objects := map[string]string{
		"/schedule/alice/inbox/i1.ics": invitationICS("inv-1", "NEEDS-ACTION"),
	}
	s, _ := newTestService(t, inboxHandler(t, objects, func(body string) { putBody = body }))

	ctx := context.Background()
	invitations, err := s.ListInvitations(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("ListInvitations() error = %v", err)
	}
	if len(invitations) != 1 {
		t.Fatalf("len(invitations) = %d, want 1", len(invitations))
	}

	if err := s.RespondToInvitation(ctx, invitations[0], "alice@example.com", "accepted"); err != nil {
		t.Fatalf("RespondToInvitation() error = %v", err)
	}

	if !strings.Contains(putBody, "PARTSTAT=ACCEPTED") {
		t.Errorf("written body missing PARTSTAT=ACCEPTED:\n%s", putBody)
	}
	// Bob's answer stays intact.
	if !strings.Contains(putBody, "bob@example.com") {
		t.Error("other attendee lost")
	}
}

func TestRespondToInvitationRejectsBadPartStat(t *testing.T) {
	s, _ := newTestService(t, inboxHandler(t, nil, nil))
	err := s.RespondToInvitation(context.Background(), Invitation{UID: "x"}, "alice@example.com", "MAYBE")
	if err == nil {
		t.Error("RespondToInvitation() accepted an invalid participation status")
	}
}
