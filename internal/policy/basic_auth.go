package policy

import (
	"strings"

	"github.com/eliteGoblin/focusd/proxy_mon/internal/domain"
)

// BasicAuthRuleName is also the counter file stem ({BASE_PASS}/BasicCheck.txt).
const BasicAuthRuleName = "BasicCheck"

// BasicAuthRule flags nginx auth_basic failures: a wrong password, or a user
// missing from the htpasswd file.
type BasicAuthRule struct{}

// NewBasicAuthRule creates the basic-auth failure rule.
func NewBasicAuthRule() *BasicAuthRule {
	return &BasicAuthRule{}
}

func (r *BasicAuthRule) Name() string {
	return BasicAuthRuleName
}

// Evaluate matches lines such as:
//
//	... user "bob": password mismatch, client: 10.0.0.1 ...
//	... user "eve" was not found in "/etc/nginx/.htpasswd", client: ...
func (r *BasicAuthRule) Evaluate(line string) bool {
	if strings.Contains(line, ": password mismatch,") {
		return true
	}
	return strings.Contains(line, `user "`) && strings.Contains(line, `" was not found in "`)
}

var _ domain.Rule = (*BasicAuthRule)(nil)
