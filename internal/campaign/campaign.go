package campaign

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/modfin/henry/slicez"
	"github.com/sirupsen/logrus"
	"github.com/utskick/utskick"
	"github.com/utskick/utskick/tools"
)

// Identity of an authenticated caller, as produced by the site's auth service.
type Identity struct {
	UserId string
	Role   string
}

const RoleAdmin = "admin"

// TokenVerifier is the site's token verifier. Owned elsewhere, consumed here.
type TokenVerifier interface {
	Verify(token string) (Identity, error)
}

// Renderer turns a campaign into the one HTML body shared by all recipients.
type Renderer interface {
	Render(c utskick.Campaign) (string, error)
}

// RecipientResolver computes the deduplicated recipient set of a target group.
type RecipientResolver interface {
	Resolve(group utskick.TargetGroup) ([]string, error)
}

// Enqueuer is the all-or-nothing fan-out into the queue store.
type Enqueuer interface {
	EnqueueMany(msgs []utskick.QueuedMessage) error
}

type Service struct {
	verifier TokenVerifier
	resolver RecipientResolver
	queue    Enqueuer
	renderer Renderer
	log      *logrus.Logger
}

func New(verifier TokenVerifier, resolver RecipientResolver, queue Enqueuer, renderer Renderer, lc *tools.Logger) *Service {
	return &Service{
		verifier: verifier,
		resolver: resolver,
		queue:    queue,
		renderer: renderer,
		log:      lc.New("campaign"),
	}
}

// Send authorizes the caller, resolves recipients and enqueues one message per
// recipient under a shared body. It returns the number of recipients enqueued.
// Delivery happens later, its outcome is only visible through the stats.
func (s *Service) Send(token string, req utskick.Campaign) (int, error) {

	ident, err := s.verifier.Verify(token)
	if err != nil {
		return 0, fmt.Errorf("could not verify token: %w", utskick.ErrUnauthorized)
	}
	if ident.Role != RoleAdmin {
		return 0, fmt.Errorf("user %s has role %q, campaigns require %s: %w", ident.UserId, ident.Role, RoleAdmin, utskick.ErrForbidden)
	}

	err = validate(req)
	if err != nil {
		return 0, err
	}

	recipients, err := s.resolver.Resolve(req.TargetGroup)
	if err != nil {
		return 0, err
	}
	if len(recipients) == 0 {
		s.log.WithField("group", req.TargetGroup).Warn("campaign resolved to zero recipients")
		return 0, nil
	}

	body, err := s.renderer.Render(req)
	if err != nil {
		return 0, fmt.Errorf("could not render campaign body, err %v", err)
	}

	campaignId := uuid.New().String()
	msgs := slicez.Map(recipients, func(to string) utskick.QueuedMessage {
		msg := utskick.NewMessage(to, req.Subject, body)
		msg.CampaignId = campaignId
		return msg
	})

	err = s.queue.EnqueueMany(msgs)
	if err != nil {
		return 0, fmt.Errorf("could not enqueue campaign %s, err %v", campaignId, err)
	}

	s.log.WithField("campaign", campaignId).Infof("enqueued %d recipients for group %s", len(msgs), req.TargetGroup)
	return len(msgs), nil
}

func validate(req utskick.Campaign) error {
	if len(req.Subject) == 0 {
		return fmt.Errorf("a subject must be provided: %w", utskick.ErrInvalidArgument)
	}
	if len(req.Message) == 0 {
		return fmt.Errorf("a message must be provided: %w", utskick.ErrInvalidArgument)
	}
	if !req.TargetGroup.Valid() {
		return fmt.Errorf("unknown target group %q: %w", req.TargetGroup, utskick.ErrInvalidArgument)
	}
	return nil
}
