package discovery

import (
	"context"
	"time"
)

// Browser provides mDNS browsing for ledger API nodes.
type Browser interface {
	// Browse streams nodes as they are found. The channel is closed when
	// ctx is done.
	Browse(ctx context.Context) (<-chan *NodeService, error)

	// Candidates browses for the configured window and returns the base
	// URLs of nodes serving service on the configured network.
	Candidates(ctx context.Context, service string) ([]string, error)

	// Stop stops all active browsing operations.
	Stop()
}

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// BrowseTimeout bounds a Candidates call. Default: BrowseTimeout.
	BrowseTimeout time.Duration

	// Interface restricts browsing to one network interface.
	// Empty string means all interfaces.
	Interface string

	// Network filters nodes by their net TXT record. Empty accepts all.
	Network string
}

// DefaultBrowserConfig returns the default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		BrowseTimeout: BrowseTimeout,
	}
}

// ServiceEntry is the subset of an mDNS answer the browser uses.
type ServiceEntry struct {
	Instance string
	Host     string
	Port     uint16
	Text     []string
	Addrs    []string
}

// ToNodeService converts a ServiceEntry to a NodeService.
func (e *ServiceEntry) ToNodeService() (*NodeService, error) {
	info, err := DecodeNodeTXT(StringsToTXTRecords(e.Text))
	if err != nil {
		return nil, err
	}
	return &NodeService{
		InstanceName: e.Instance,
		Host:         e.Host,
		Port:         e.Port,
		Addresses:    append([]string(nil), e.Addrs...),
		NodeInfo:     *info,
	}, nil
}

// FilterFunc filters browse results.
type FilterFunc func(*NodeService) bool

// FilterByService matches nodes serving service.
func FilterByService(service string) FilterFunc {
	return func(n *NodeService) bool {
		return n.Service == service
	}
}

// FilterByNetwork matches nodes on network. An empty network matches all.
func FilterByNetwork(network string) FilterFunc {
	return func(n *NodeService) bool {
		return network == "" || n.Network == network
	}
}

// CandidateURLs returns the distinct base URLs of nodes matching every
// filter, in discovery order.
func CandidateURLs(nodes []*NodeService, filters ...FilterFunc) []string {
	seen := make(map[string]bool)
	var urls []string
next:
	for _, n := range nodes {
		for _, f := range filters {
			if !f(n) {
				continue next
			}
		}
		u, err := n.URL()
		if err != nil || seen[u] {
			continue
		}
		seen[u] = true
		urls = append(urls, u)
	}
	return urls
}
