package egress

// ClientIdentity is the client the extraction tool impersonates against
// the upstream. SupportsCookies is a declared per-identity capability:
// the upstream only honours session cookies on its web surface, so
// attaching a jar to the app clients would waste the credential and can
// trip additional checks.
type ClientIdentity struct {
	Name            string
	PlayerClient    string
	UserAgent       string
	SupportsCookies bool
}

var (
	IdentityWeb = ClientIdentity{
		Name:            "web",
		PlayerClient:    "web_safari",
		UserAgent:       "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
		SupportsCookies: true,
	}
	IdentityAndroid = ClientIdentity{
		Name:         "android",
		PlayerClient: "android",
	}
	IdentityTV = ClientIdentity{
		Name:         "tv",
		PlayerClient: "tv_embedded",
	}
)

// identityOrder is the preference order within a route: cookie-capable
// first, app clients as credential-less fallbacks.
var identityOrder = []ClientIdentity{IdentityWeb, IdentityAndroid, IdentityTV}

// An Attempt is one rung of the strategy ladder.
type Attempt struct {
	Route         RouteDescriptor
	Identity      ClientIdentity
	UseCredential bool
}

func (a Attempt) String() string {
	cred := "anon"
	if a.UseCredential {
		cred = "cookies"
	}
	return a.Route.String() + "/" + a.Identity.Name + "/" + cred
}

// maxLadderLength bounds the ladder so a job always terminates.
const maxLadderLength = 6

// BuildLadder produces the ordered attempts for one job, computed before
// the job starts. Routes that can carry the tenant's credential come
// first (higher success rate, better stream quality); credential-less
// identities follow as fallbacks. With no stored credential the web
// identity still leads, just anonymously.
func BuildLadder(routes []RouteDescriptor, hasCredential bool) []Attempt {
	all := append([]RouteDescriptor{{}}, routes...)
	var ladder []Attempt
	for _, route := range all {
		for _, id := range identityOrder {
			ladder = append(ladder, Attempt{
				Route:         route,
				Identity:      id,
				UseCredential: hasCredential && id.SupportsCookies,
			})
		}
	}
	if len(ladder) > maxLadderLength {
		ladder = ladder[:maxLadderLength]
	}
	return ladder
}

// Reorder handles the one mid-job ladder rewrite: when a rung's failure
// signature points at the client identity rather than the route, the
// remaining rungs are rearranged in place so alternate identities on the
// same route are tried before moving to the next route. The set of
// attempts is preserved; only their order changes.
func Reorder(remaining []Attempt, failed Attempt) []Attempt {
	if len(remaining) < 2 {
		return remaining
	}
	reordered := make([]Attempt, 0, len(remaining))
	var rest []Attempt
	for _, a := range remaining {
		if a.Route == failed.Route && a.Identity.Name != failed.Identity.Name {
			reordered = append(reordered, a)
		} else {
			rest = append(rest, a)
		}
	}
	return append(reordered, rest...)
}
