// Package identity derives the identities certified by a provisioning run:
// one node carrying a set of subject alternative names, and the client
// usernames.
package identity

import (
	"net/netip"
	"sort"
	"strings"
)

// DefaultSuperuser always receives a client certificate.
const DefaultSuperuser = "root"

// NodeName is the implicit DNS identity every node certificate carries.
const NodeName = "node"

// SANKind tags a subject alternative name.
type SANKind string

// SAN kinds.
const (
	KindDNS SANKind = "DNS"
	KindIP  SANKind = "IP"
)

// SubjectAltName is a single DNS or IP subject alternative name.
type SubjectAltName struct {
	Kind  SANKind
	Value string
}

// String renders the name as OpenSSL expects it, e.g. "IP:10.0.0.5".
func (s SubjectAltName) String() string {
	return string(s.Kind) + ":" + s.Value
}

// ParseSubjectAltName classifies token as IP when it is an IP literal and as
// DNS otherwise. Zoned IPv6 addresses are not valid certificate IPs and are
// classified as DNS.
func ParseSubjectAltName(token string) SubjectAltName {
	if addr, err := netip.ParseAddr(token); err == nil && addr.Zone() == "" {
		return SubjectAltName{Kind: KindIP, Value: addr.String()}
	}
	return SubjectAltName{Kind: KindDNS, Value: token}
}

// SubjectAltNames is a deduplicated, sorted SAN set.
type SubjectAltNames []SubjectAltName

// Join renders the set separated by sep, e.g. "DNS:db1,DNS:node,IP:10.0.0.9".
func (s SubjectAltNames) Join(sep string) string {
	parts := make([]string, len(s))
	for i, san := range s {
		parts[i] = san.String()
	}
	return strings.Join(parts, sep)
}

// Hosts returns the bare values, as passed to `cockroach cert create-node`.
func (s SubjectAltNames) Hosts() []string {
	hosts := make([]string, len(s))
	for i, san := range s {
		hosts[i] = san.Value
	}
	return hosts
}

// Contains reports whether san is in the set.
func (s SubjectAltNames) Contains(san SubjectAltName) bool {
	for _, existing := range s {
		if existing == san {
			return true
		}
	}
	return false
}

// DNSNames returns the values of the DNS entries.
func (s SubjectAltNames) DNSNames() []string {
	var names []string
	for _, san := range s {
		if san.Kind == KindDNS {
			names = append(names, san.Value)
		}
	}
	return names
}

// IPAddresses returns the values of the IP entries.
func (s SubjectAltNames) IPAddresses() []string {
	var ips []string
	for _, san := range s {
		if san.Kind == KindIP {
			ips = append(ips, san.Value)
		}
	}
	return ips
}

// NodeIdentity is the single node certificate subject.
type NodeIdentity struct {
	SubjectAltNames SubjectAltNames
}

// ClientIdentity is one client certificate subject.
type ClientIdentity struct {
	Username string
}

// IdentitySet is everything a run certifies.
type IdentitySet struct {
	Node    NodeIdentity
	Clients []ClientIdentity
}

// Usernames returns the client usernames in order.
func (s IdentitySet) Usernames() []string {
	names := make([]string, len(s.Clients))
	for i, c := range s.Clients {
		names[i] = c.Username
	}
	return names
}

// Build derives the identity set from the raw node names and the primary
// client username. It never fails; required-input checks belong to the
// configuration layer.
func Build(nodeNames, clientUsername string) IdentitySet {
	usernames := ClientUsernames(clientUsername)

	clients := make([]ClientIdentity, len(usernames))
	for i, u := range usernames {
		clients[i] = ClientIdentity{Username: u}
	}

	return IdentitySet{
		Node:    NodeIdentity{SubjectAltNames: BuildSubjectAltNames(ParseNodeNames(nodeNames))},
		Clients: clients,
	}
}

// ParseNodeNames splits raw on runs of whitespace and drops empty tokens.
func ParseNodeNames(raw string) []string {
	return strings.Fields(raw)
}

// BuildSubjectAltNames classifies tokens, injects DNS:node and returns the
// deduplicated set in sorted order.
func BuildSubjectAltNames(tokens []string) SubjectAltNames {
	seen := make(map[SubjectAltName]struct{}, len(tokens)+1)
	sans := make(SubjectAltNames, 0, len(tokens)+1)

	add := func(san SubjectAltName) {
		if _, ok := seen[san]; ok {
			return
		}
		seen[san] = struct{}{}
		sans = append(sans, san)
	}

	add(SubjectAltName{Kind: KindDNS, Value: NodeName})
	for _, token := range tokens {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		add(ParseSubjectAltName(token))
	}

	sort.Slice(sans, func(i, j int) bool {
		if sans[i].Kind != sans[j].Kind {
			return sans[i].Kind < sans[j].Kind
		}
		return sans[i].Value < sans[j].Value
	})
	return sans
}

// ClientUsernames returns the primary username followed by the superuser
// when they differ. Usernames are lower-cased the way cockroach normalizes
// them. A blank username means the superuser.
func ClientUsernames(primary string) []string {
	primary = strings.ToLower(strings.TrimSpace(primary))
	if primary == "" || primary == DefaultSuperuser {
		return []string{DefaultSuperuser}
	}
	return []string{primary, DefaultSuperuser}
}
