package activitypub

import (
	"log"
	"strings"

	"github.com/deemkeen/chatterpub/db"
	"github.com/deemkeen/chatterpub/identity"
)

// FollowersSuffix marks an addressing entry as an actor's followers
// collection, e.g. "did:key:zA/followers".
const FollowersSuffix = "/followers"

// AudienceResolver expands an activity's addressing list into concrete
// recipient DIDs. Collection membership is read from storage at resolution
// time, never cached across ingestions.
type AudienceResolver struct {
	db *db.DB
}

func NewAudienceResolver(database *db.DB) *AudienceResolver {
	return &AudienceResolver{db: database}
}

// Resolve returns the set of recipients the addressing names. Duplicates
// collapse. An entry naming an unknown or unresolvable collection is
// dropped with a log line; a single bad entry never aborts the whole
// delivery.
func (r *AudienceResolver) Resolve(addressing []string) []string {
	seen := make(map[string]struct{})
	var recipients []string

	add := func(did string) {
		if _, ok := seen[did]; ok {
			return
		}
		seen[did] = struct{}{}
		recipients = append(recipients, did)
	}

	for _, entry := range addressing {
		switch {
		case identity.ValidDID(entry):
			add(entry)
		case strings.HasSuffix(entry, FollowersSuffix):
			owner := strings.TrimSuffix(entry, FollowersSuffix)
			if !identity.ValidDID(owner) {
				log.Printf("Audience: dropping collection with invalid owner: %s", entry)
				continue
			}
			err, followers := r.db.ReadFollowersByDID(owner)
			if err != nil {
				log.Printf("Audience: failed to expand %s: %v", entry, err)
				continue
			}
			for _, follower := range followers {
				add(follower)
			}
		default:
			log.Printf("Audience: dropping unresolvable addressing entry: %s", entry)
		}
	}

	return recipients
}
