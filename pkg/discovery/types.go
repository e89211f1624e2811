package discovery

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	// ServiceType is the DNS-SD service type advertised by ledger API nodes.
	ServiceType = "_ledgerapi._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// BrowseTimeout is the default browse window for Candidates.
	BrowseTimeout = 2 * time.Second
)

// TXT record keys.
const (
	TXTKeyService = "svc"
	TXTKeyNetwork = "net"
	TXTKeyProto   = "proto"
	TXTKeyPath    = "path"
)

// Errors.
var (
	ErrMissingRequired = errors.New("missing required TXT record")
	ErrInvalidProto    = errors.New("invalid proto TXT record")
	ErrNoAddress       = errors.New("node has no usable address")
)

// NodeInfo is the content of a node's TXT record.
type NodeInfo struct {
	Service string
	Network string
	Proto   string
	Path    string
}

// NodeService is a discovered ledger API node.
type NodeService struct {
	InstanceName string
	Host         string
	Port         uint16
	Addresses    []string
	NodeInfo
}

// URL returns the base URL of the node's API. Literal addresses are
// preferred over the host name because .local names often do not resolve
// outside the mDNS responder.
func (n *NodeService) URL() (string, error) {
	host := strings.TrimSuffix(n.Host, ".")
	if len(n.Addresses) > 0 {
		host = n.Addresses[0]
	}
	if host == "" || n.Port == 0 {
		return "", ErrNoAddress
	}

	proto := n.Proto
	if proto == "" {
		proto = "https"
	}
	u := proto + "://" + net.JoinHostPort(host, strconv.Itoa(int(n.Port)))
	if p := strings.Trim(n.Path, "/"); p != "" {
		u += "/" + p
	}
	return u, nil
}
