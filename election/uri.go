package election

import (
	"net/url"
	"strconv"
)

// logSubscriptionTag is the cluster log-subscription tag constant §6
// requires every follower subscription to carry.
const logSubscriptionTag = "cluster-log"

// followerSubscriptionURI builds the channel URI a follower subscribes
// to: the control endpoint is stripped, control mode forced to manual,
// session-id set to sessionID, and the cluster log-subscription tag
// attached (spec §6).
func followerSubscriptionURI(base string, sessionID int32) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Del("control")
	q.Set("control-mode", "manual")
	q.Set("session-id", strconv.Itoa(int(sessionID)))
	q.Set("tags", logSubscriptionTag)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// liveLogDestinationURI builds the URI for this member's own live log
// destination: the base channel with endpoint set to ours (spec §6).
func liveLogDestinationURI(base, endpoint string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("endpoint", endpoint)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
