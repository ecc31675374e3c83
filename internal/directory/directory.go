// Package directory is the read-only view over per-person notification
// preferences. Disabled subscriptions are filtered here, before any
// routing logic sees them.
package directory

import (
	"sort"

	"github.com/InstruktAI/TeleClaude-sub007/internal/config"
)

const roleAdmin = "admin"

// Recipient is one resolved delivery target: a person, the channel they
// prefer, and their concrete address on that channel.
type Recipient struct {
	Person  string
	Channel string
	Address string
}

// Directory answers recipient queries over the configured people.
type Directory struct {
	people map[string]config.Person
}

// New builds a Directory over the given people map. The map is owned by
// the config layer and never mutated here.
func New(people map[string]config.Person) *Directory {
	return &Directory{people: people}
}

// JobSubscribers returns one recipient per person holding an enabled
// subscription for the named unit of work. A person with several
// matching subscriptions is listed once, on the first match.
func (d *Directory) JobSubscribers(job string) []Recipient {
	var out []Recipient
	for name, person := range d.people {
		if r, ok := resolveSubscription(name, person, job); ok {
			out = append(out, r)
		}
	}
	sortRecipients(out)
	return out
}

// SystemRecipients returns the union of all administrators and every
// enabled opt-in subscriber of the named unit of work, one entry per
// person. An admin who also subscribes appears once, addressed via
// their subscription preference.
func (d *Directory) SystemRecipients(job string) []Recipient {
	var out []Recipient
	for name, person := range d.people {
		if r, ok := resolveSubscription(name, person, job); ok {
			out = append(out, r)
			continue
		}
		if person.Role != roleAdmin {
			continue
		}
		if person.Contact.Address == "" {
			continue
		}
		out = append(out, Recipient{
			Person:  name,
			Channel: person.Contact.PreferredChannel,
			Address: person.Contact.Address,
		})
	}
	sortRecipients(out)
	return out
}

// HasEnabledSubscription reports whether anyone has opted in to the
// named unit of work. Used to decide whether the work executes at all.
func (d *Directory) HasEnabledSubscription(job string) bool {
	for name, person := range d.people {
		if _, ok := resolveSubscription(name, person, job); ok {
			return true
		}
	}
	return false
}

// resolveSubscription finds the first enabled job-type subscription of
// person for job and resolves its delivery target, falling back to the
// person's default contact when the subscription omits one. Feed
// subscriptions carry no per-result delivery address and never match.
func resolveSubscription(name string, person config.Person, job string) (Recipient, bool) {
	for _, sub := range person.Subscriptions {
		if !sub.Enabled || sub.Job != job {
			continue
		}
		if sub.Type != "" && sub.Type != config.SubscriptionTypeJob {
			continue
		}
		channel := sub.Notification.PreferredChannel
		address := sub.Notification.Address
		if address == "" {
			channel = person.Contact.PreferredChannel
			address = person.Contact.Address
		}
		if address == "" {
			continue
		}
		return Recipient{Person: name, Channel: channel, Address: address}, true
	}
	return Recipient{}, false
}

func sortRecipients(rs []Recipient) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].Person < rs[j].Person })
}
