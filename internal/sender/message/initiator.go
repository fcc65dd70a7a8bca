package message

import "strconv"

// Initiator tags who started a request. Listeners and the authentication
// gate branch on it.
type Initiator int

// Known initiators.
const (
	InitiatorUnknown Initiator = iota
	InitiatorProxy
	InitiatorActiveScanner
	InitiatorSpider
	InitiatorFuzzer
	InitiatorAuthentication
	InitiatorManual
	InitiatorUpdateCheck
	InitiatorScript
	InitiatorAccessControl
	InitiatorBrowserSpider
	InitiatorForcedBrowse
	InitiatorTokenGenerator
	InitiatorWebSocket
	InitiatorAuthenticationHelper
	InitiatorAuthenticationPoll
	InitiatorOAST
)

var initiatorNames = map[Initiator]string{
	InitiatorUnknown:              "unknown",
	InitiatorProxy:                "proxy",
	InitiatorActiveScanner:        "active-scanner",
	InitiatorSpider:               "spider",
	InitiatorFuzzer:               "fuzzer",
	InitiatorAuthentication:       "authentication",
	InitiatorManual:               "manual",
	InitiatorUpdateCheck:          "update-check",
	InitiatorScript:               "script",
	InitiatorAccessControl:        "access-control",
	InitiatorBrowserSpider:        "browser-spider",
	InitiatorForcedBrowse:         "forced-browse",
	InitiatorTokenGenerator:       "token-generator",
	InitiatorWebSocket:            "websocket",
	InitiatorAuthenticationHelper: "authentication-helper",
	InitiatorAuthenticationPoll:   "authentication-poll",
	InitiatorOAST:                 "oast",
}

// String returns the lower case initiator name.
func (i Initiator) String() string {
	if name, ok := initiatorNames[i]; ok {
		return name
	}
	return "initiator(" + strconv.Itoa(int(i)) + ")"
}

// IsAuthentication reports whether the request is part of an
// authentication flow, polling included.
func (i Initiator) IsAuthentication() bool {
	return i == InitiatorAuthentication || i == InitiatorAuthenticationPoll
}

// ParseInitiator resolves a name produced by String.
func ParseInitiator(name string) (Initiator, bool) {
	for i, n := range initiatorNames {
		if n == name {
			return i, true
		}
	}
	return InitiatorUnknown, false
}
