// Package dns builds and parses the single-question, recursion-desired A
// record query the network collaborator issues on resolve_dns, using
// github.com/miekg/dns in place of the original's hand-rolled wire format
// in original_source/src/dns.rs (build_dns_query/parse_dns_response).
// Query shape (one question, QTYPE=A, QCLASS=IN, RD=1) and the ~2s polling
// budget are preserved even though miekg/dns's client does the wire
// exchange and parsing for us (one exchange per call, no retry).
package dns

import (
	"fmt"
	"time"

	"github.com/miekg/dns"
)

// PollBudget mirrors the original's 200 ticks of 10ms (~2s total).
const PollBudget = 2 * time.Second

// Server is the QEMU SLIRP default DNS server the original prototype
// resolved against. Kept as the zero-config default; callers running
// outside that environment should supply their own via ResolveVia.
const Server = "10.0.2.3:53"

// Resolve queries Server for domain's A record and returns the first
// answer's IPv4 address, or an error if nothing resolved within
// PollBudget.
func Resolve(domain string) ([4]byte, error) {
	return ResolveVia(Server, domain)
}

// ResolveVia queries server (host:port) for domain's A record.
func ResolveVia(server, domain string) ([4]byte, error) {
	var zero [4]byte

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domain), dns.TypeA)
	m.RecursionDesired = true

	c := new(dns.Client)
	c.Timeout = PollBudget

	resp, _, err := c.Exchange(m, server)
	if err != nil {
		return zero, fmt.Errorf("dns: exchange with %s failed: %w", server, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return zero, fmt.Errorf("dns: %s returned rcode %d", server, resp.Rcode)
	}

	for _, ans := range resp.Answer {
		if a, ok := ans.(*dns.A); ok {
			ip4 := a.A.To4()
			if ip4 == nil {
				continue
			}
			var out [4]byte
			copy(out[:], ip4)
			return out, nil
		}
	}
	return zero, fmt.Errorf("dns: no A record in response for %s", domain)
}
