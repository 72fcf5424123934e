// Package rotation runs the periodic key-rotation sweep: on each cycle
// it fetches the current public key for every contact and every group
// member and installs the fresh keys into the directories. A failed
// fetch for one peer never blocks the rest of the sweep.
package rotation

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/shroud/contact"
	"github.com/opd-ai/shroud/crypto"
	"github.com/opd-ai/shroud/group"
)

// DefaultInterval is the default time between rotation sweeps.
const DefaultInterval = 24 * time.Hour

// KeyFetcher retrieves a peer's current public key encoding from the
// network. Implementations live in the transport layer.
type KeyFetcher interface {
	// FetchContactKey returns the current public key for a contact.
	FetchContactKey(ctx context.Context, hash crypto.IdentityHash) ([]byte, error)
	// FetchMemberKey returns the current public key for a group member.
	FetchMemberKey(ctx context.Context, groupID string, hash crypto.IdentityHash) ([]byte, error)
}

// Scheduler drives the rotation sweep on a fixed interval.
type Scheduler struct {
	contacts *contact.Directory
	groups   *group.Directory
	fetcher  KeyFetcher
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewScheduler creates a stopped scheduler. interval of 0 selects the
// default.
func NewScheduler(contacts *contact.Directory, groups *group.Directory, fetcher KeyFetcher, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		contacts: contacts,
		groups:   groups,
		fetcher:  fetcher,
		interval: interval,
	}
}

// Start launches the sweep loop. Idempotent: starting a running
// scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go s.loop(loopCtx)

	logrus.WithFields(logrus.Fields{
		"function": "Start",
		"interval": s.interval.String(),
	}).Info("Key rotation scheduler started")
}

// Stop cancels the sweep loop and waits for it to exit. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	logrus.WithField("function", "Stop").Info("Key rotation scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RotateOnce(ctx)
		}
	}
}

// RotateOnce runs a single sweep over all contacts and group members.
// Returns how many keys were rotated.
func (s *Scheduler) RotateOnce(ctx context.Context) int {
	rotated := 0
	rotated += s.rotateContacts(ctx)
	rotated += s.rotateGroups(ctx)

	logrus.WithFields(logrus.Fields{
		"function": "RotateOnce",
		"rotated":  rotated,
	}).Debug("Key rotation sweep finished")

	return rotated
}

func (s *Scheduler) rotateContacts(ctx context.Context) int {
	rotated := 0
	for _, c := range s.contacts.List() {
		key, err := s.fetcher.FetchContactKey(ctx, c.IdentityHash)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "rotateContacts",
				"nickname": c.Nickname,
				"error":    err,
			}).Warn("Contact key fetch failed, keeping current key")
			continue
		}
		if string(key) == string(c.PublicKey) {
			continue
		}
		if err := s.contacts.UpdatePublicKey(ctx, c.Nickname, key); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "rotateContacts",
				"nickname": c.Nickname,
				"error":    err,
			}).Warn("Contact key install failed")
			continue
		}
		rotated++
	}
	return rotated
}

func (s *Scheduler) rotateGroups(ctx context.Context) int {
	rotated := 0
	for _, g := range s.groups.List() {
		for _, m := range g.Members {
			key, err := s.fetcher.FetchMemberKey(ctx, g.ID, m.IdentityHash)
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "rotateGroups",
					"group_id": g.ID,
					"member":   m.Nickname,
					"error":    err,
				}).Warn("Member key fetch failed, keeping current key")
				continue
			}
			if string(key) == string(m.PublicKey) {
				continue
			}
			if err := s.groups.UpdateMemberKey(ctx, g.ID, m.Nickname, key); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "rotateGroups",
					"group_id": g.ID,
					"member":   m.Nickname,
					"error":    err,
				}).Warn("Member key install failed")
				continue
			}
			rotated++
		}
	}
	return rotated
}
