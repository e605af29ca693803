package ledger

import (
	"path"
	"strings"
)

// ValidID reports whether id can be used as a single path segment.
func ValidID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.Contains(id, "/")
}

func StatePath(accountID string) string {
	return path.Join("accounts", accountID, "state")
}

func FlowLegPath(accountID, flowID string) string {
	return path.Join("accounts", accountID, "flows", flowID)
}

func FlowLegsPath(accountID string) string {
	return path.Join("accounts", accountID, "flows")
}

func PaymentLegPath(accountID, paymentID string) string {
	return path.Join("accounts", accountID, "payments", paymentID)
}

func MembersPath(accountID string) string {
	return path.Join("accounts", accountID, "members")
}

func MemberPath(accountID, memberID string) string {
	return path.Join("accounts", accountID, "members", memberID)
}

func DelegationPath(accountID, userID string) string {
	return path.Join("accounts", accountID, "delegations", userID)
}

func UniversalLegPath(accountID, date string) string {
	return path.Join("accounts", accountID, "universal", date)
}

func UniversalLegsPath(accountID string) string {
	return path.Join("accounts", accountID, "universal")
}

// FlowsPath is the parent of every network flow record.
const FlowsPath = "flows"

func FlowPath(flowID string) string {
	return path.Join(FlowsPath, flowID)
}

func PaymentPath(paymentID string) string {
	return path.Join("payments", paymentID)
}

func CardPath(cardID string) string {
	return path.Join("cards", cardID)
}

// UsersPath and GroupsPath are the parents of profile and group records.
const (
	UsersPath  = "users"
	GroupsPath = "groups"
)

func UserPath(uid string) string {
	return path.Join(UsersPath, uid)
}

func UserDelegationPath(uid, accountID string) string {
	return path.Join(UsersPath, uid, "delegations", accountID)
}

func GroupPath(gid string) string {
	return path.Join(GroupsPath, gid)
}

func UniversalMembersPath(date string) string {
	return path.Join("universal", date, "members")
}

func UniversalBudgetPath(date, accountID string) string {
	return path.Join("universal", date, "flows", accountID)
}
