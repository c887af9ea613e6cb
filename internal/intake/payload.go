// ABOUTME: Parsing of opaque button payloads into typed intake actions
// ABOUTME: Replaces string-prefix fallthrough routing with tagged dispatch

package intake

import (
	"fmt"
	"strconv"
	"strings"
)

// actionKind tags a parsed button payload.
type actionKind int

const (
	actionSelectService actionKind = iota + 1
	actionSelectGroup
	actionSelectPackage
	actionSubmit
	actionChangeTarget
	actionAttachReceipt
	actionPayMethod
	actionCancelFlow
	actionCancelRecord
	actionBackWelcome
	actionBackService
)

// action is a fully parsed button payload. Which fields are set
// depends on the kind.
type action struct {
	kind     actionKind
	service  string
	group    int
	pkg      int
	recordID string
	method   string
}

// parsePayload decodes a button payload string. The grammar is
// pipe-separated with a leading tag:
//
//	svc|<service>
//	grp|<service>|<group-index>
//	pkg|<service>|<group-index>|<package-index>
//	submit|<record-id>  change|<record-id>  attach|<record-id>
//	pay|<record-id>|<method>
//	cancel|flow  cancel_order|<record-id>
//	back|welcome  back|service|<service>
func parsePayload(payload string) (action, error) {
	parts := strings.Split(payload, "|")

	switch parts[0] {
	case "svc":
		if len(parts) != 2 {
			return action{}, fmt.Errorf("malformed svc payload %q", payload)
		}
		return action{kind: actionSelectService, service: parts[1]}, nil

	case "grp":
		if len(parts) != 3 {
			return action{}, fmt.Errorf("malformed grp payload %q", payload)
		}
		gi, err := strconv.Atoi(parts[2])
		if err != nil {
			return action{}, fmt.Errorf("malformed grp index in %q", payload)
		}
		return action{kind: actionSelectGroup, service: parts[1], group: gi}, nil

	case "pkg":
		if len(parts) != 4 {
			return action{}, fmt.Errorf("malformed pkg payload %q", payload)
		}
		gi, err := strconv.Atoi(parts[2])
		if err != nil {
			return action{}, fmt.Errorf("malformed pkg group index in %q", payload)
		}
		pi, err := strconv.Atoi(parts[3])
		if err != nil {
			return action{}, fmt.Errorf("malformed pkg index in %q", payload)
		}
		return action{kind: actionSelectPackage, service: parts[1], group: gi, pkg: pi}, nil

	case "submit", "change", "attach":
		if len(parts) != 2 || parts[1] == "" {
			return action{}, fmt.Errorf("malformed %s payload %q", parts[0], payload)
		}
		kind := map[string]actionKind{
			"submit": actionSubmit,
			"change": actionChangeTarget,
			"attach": actionAttachReceipt,
		}[parts[0]]
		return action{kind: kind, recordID: parts[1]}, nil

	case "pay":
		if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
			return action{}, fmt.Errorf("malformed pay payload %q", payload)
		}
		return action{kind: actionPayMethod, recordID: parts[1], method: parts[2]}, nil

	case "cancel":
		return action{kind: actionCancelFlow}, nil

	case "cancel_order":
		if len(parts) != 2 || parts[1] == "" {
			return action{}, fmt.Errorf("malformed cancel_order payload %q", payload)
		}
		return action{kind: actionCancelRecord, recordID: parts[1]}, nil

	case "back":
		if len(parts) >= 2 && parts[1] == "welcome" {
			return action{kind: actionBackWelcome}, nil
		}
		if len(parts) == 3 && parts[1] == "service" {
			return action{kind: actionBackService, service: parts[2]}, nil
		}
		return action{}, fmt.Errorf("malformed back payload %q", payload)
	}

	return action{}, fmt.Errorf("unknown payload %q", payload)
}
