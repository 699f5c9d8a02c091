package contact

import (
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
)

var defaultResolvers = []string{"8.8.8.8:53", "1.1.1.1:53"}

// MXVerifier checks that an email domain publishes MX records.
// Answers are cached per domain for the lifetime of the verifier.
type MXVerifier struct {
	client    *dns.Client
	resolvers []string

	mu    sync.Mutex
	cache map[string]bool
}

// NewMXVerifier creates a verifier; empty resolvers fall back to public DNS
func NewMXVerifier(resolvers []string, timeout time.Duration) *MXVerifier {
	if len(resolvers) == 0 {
		resolvers = defaultResolvers
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &MXVerifier{
		client:    &dns.Client{Timeout: timeout},
		resolvers: resolvers,
		cache:     make(map[string]bool),
	}
}

// HasMX reports whether the domain of email accepts mail.
// Lookup failures on every resolver count as "no MX".
func (v *MXVerifier) HasMX(email string) bool {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	domain := strings.ToLower(strings.TrimSpace(email[at+1:]))
	if domain == "" {
		return false
	}

	v.mu.Lock()
	if ok, seen := v.cache[domain]; seen {
		v.mu.Unlock()
		return ok
	}
	v.mu.Unlock()

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(domain), dns.TypeMX)
	msg.RecursionDesired = true

	ok := false
	for _, server := range v.resolvers {
		resp, _, err := v.client.Exchange(msg, server)
		if err != nil || resp == nil {
			continue
		}
		ok = resp.Rcode == dns.RcodeSuccess && len(resp.Answer) > 0
		break
	}

	v.mu.Lock()
	v.cache[domain] = ok
	v.mu.Unlock()
	return ok
}
