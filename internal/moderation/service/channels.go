package service

import (
	"context"
	"slices"
	"sync"

	"warden/internal/moderation/ports"
	id "warden/pkg/domain"
)

// sideChannel is the set of subjects whose ordinary chat is redirected to
// the side channel.
type sideChannel struct {
	mu      sync.Mutex
	members map[id.SubjectID]struct{}
}

func newSideChannel() *sideChannel {
	return &sideChannel{members: make(map[id.SubjectID]struct{})}
}

// toggle flips membership and reports whether subject is now a member.
func (c *sideChannel) toggle(subject id.SubjectID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.members[subject]; ok {
		delete(c.members, subject)
		return false
	}
	c.members[subject] = struct{}{}
	return true
}

func (c *sideChannel) contains(subject id.SubjectID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.members[subject]
	return ok
}

func (c *sideChannel) remove(subject id.SubjectID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.members, subject)
}

// broadcastSide delivers a side channel message to every holder of the chat
// permission.
func (s *Service) broadcastSide(ctx context.Context, author, message string) {
	text := s.render(msgChatFormat, map[string]string{"player": author, "message": message})
	s.messenger.Send(ctx, subjectIDs(s.directory.OnlineWithPermission(ctx, s.settings.Permissions.Chat)), text)
}

// broadcastReview delivers a review channel message to staff holding the
// check permission and to the subject under review. It returns the
// recipients.
func (s *Service) broadcastReview(ctx context.Context, subject id.SubjectID, author, message string) []id.SubjectID {
	text := s.render(msgCheckFormat, map[string]string{"player": author, "message": message})
	to := subjectIDs(s.directory.OnlineWithPermission(ctx, s.settings.Permissions.Check))
	if !slices.Contains(to, subject) {
		to = append(to, subject)
	}
	s.messenger.Send(ctx, to, text)
	return to
}

func subjectIDs(subjects []ports.Subject) []id.SubjectID {
	out := make([]id.SubjectID, 0, len(subjects))
	for _, subject := range subjects {
		out = append(out, subject.ID)
	}
	return out
}
