package resolver

import (
	"fmt"

	"github.com/modfin/henry/slicez"
	"github.com/sirupsen/logrus"
	"github.com/utskick/utskick"
	"github.com/utskick/utskick/tools"
)

// Sources are the site collections a campaign can address. Read-only.
type Sources interface {
	UserEmails() ([]string, error)
	RegistrantEmails() ([]string, error)
	SubmitterEmails() ([]string, error)
}

type Resolver struct {
	src Sources
	log *logrus.Logger
}

func New(src Sources, lc *tools.Logger) *Resolver {
	return &Resolver{
		src: src,
		log: lc.New("resolver"),
	}
}

// Resolve returns the deduplicated recipient set for a target group. Addresses
// are normalized to lower case first, so dedupe is case-insensitive.
func (r *Resolver) Resolve(group utskick.TargetGroup) ([]string, error) {

	var emails []string
	var err error

	switch group {
	case utskick.GroupUsers:
		emails, err = r.src.UserEmails()
	case utskick.GroupEventRegistrants:
		emails, err = r.src.RegistrantEmails()
	case utskick.GroupAll:
		for _, fetch := range []func() ([]string, error){r.src.UserEmails, r.src.RegistrantEmails, r.src.SubmitterEmails} {
			var part []string
			part, err = fetch()
			if err != nil {
				break
			}
			emails = append(emails, part...)
		}
	default:
		return nil, fmt.Errorf("unknown target group %q: %w", group, utskick.ErrInvalidArgument)
	}
	if err != nil {
		return nil, fmt.Errorf("could not read source collection for group %s, err %v", group, err)
	}

	emails = slicez.Map(emails, func(e string) string { return tools.NormalizeEmail(e) })
	emails = slicez.Reject(emails, func(e string) bool { return e == "" })
	emails = slicez.Uniq(emails)

	r.log.WithField("group", group).Debugf("resolved %d recipients", len(emails))
	return emails, nil
}
