package discovery

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"github.com/enbility/zeroconf/v3"
)

// MDNSBrowser implements Browser using zeroconf.
type MDNSBrowser struct {
	config BrowserConfig
	logger *slog.Logger

	mu      sync.Mutex
	cancels map[int]context.CancelFunc
	nextID  int
	stopped bool
}

// NewMDNSBrowser creates a new mDNS browser.
func NewMDNSBrowser(config BrowserConfig, logger *slog.Logger) *MDNSBrowser {
	if config.BrowseTimeout <= 0 {
		config.BrowseTimeout = BrowseTimeout
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &MDNSBrowser{
		config:  config,
		logger:  logger,
		cancels: make(map[int]context.CancelFunc),
	}
}

// Browse streams nodes as they are found. Answers for the same instance
// from several interfaces are merged into one node; the node is emitted
// once, on first sight.
func (b *MDNSBrowser) Browse(ctx context.Context) (<-chan *NodeService, error) {
	ctx, done := b.track(ctx)

	out := make(chan *NodeService)
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	go func() {
		defer close(out)
		defer done()

		nodes := make(map[string]*NodeService)
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				node, err := toServiceEntry(entry).ToNodeService()
				if err != nil {
					b.logger.Debug("ignoring mDNS answer", "instance", entry.Instance, "error", err)
					continue
				}
				if existing, found := nodes[node.InstanceName]; found {
					existing.Addresses = mergeAddresses(existing.Addresses, node.Addresses)
					continue
				}
				if !FilterByNetwork(b.config.Network)(node) {
					continue
				}
				nodes[node.InstanceName] = node
				select {
				case out <- node:
				case <-ctx.Done():
					return
				}

			case entry, ok := <-removed:
				if !ok {
					removed = nil
					continue
				}
				if existing, found := nodes[entry.Instance]; found {
					existing.Addresses = removeAddresses(existing.Addresses, toServiceEntry(entry).Addrs)
					if len(existing.Addresses) == 0 {
						delete(nodes, entry.Instance)
					}
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		if err := zeroconf.Browse(ctx, ServiceType, Domain, entries, removed, b.browserOptions()...); err != nil {
			b.logger.Debug("mDNS browse ended", "error", err)
		}
	}()

	return out, nil
}

// Candidates browses for the configured window and returns the base URLs of
// matching nodes. Running out of time is not an error.
func (b *MDNSBrowser) Candidates(ctx context.Context, service string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.config.BrowseTimeout)
	defer cancel()

	results, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}

	var nodes []*NodeService
	for node := range results {
		nodes = append(nodes, node)
	}
	urls := CandidateURLs(nodes, FilterByService(service), FilterByNetwork(b.config.Network))
	b.logger.Debug("mDNS candidates", "service", service, "count", len(urls))
	return urls, nil
}

// Stop cancels all active browse operations. Later browses end at once.
func (b *MDNSBrowser) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stopped = true
	for id, cancel := range b.cancels {
		cancel()
		delete(b.cancels, id)
	}
}

func (b *MDNSBrowser) track(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		cancel()
		return ctx, func() {}
	}
	id := b.nextID
	b.nextID++
	b.cancels[id] = cancel
	return ctx, func() {
		cancel()
		b.mu.Lock()
		delete(b.cancels, id)
		b.mu.Unlock()
	}
}

func (b *MDNSBrowser) browserOptions() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption
	if b.config.Interface != "" {
		iface, err := net.InterfaceByName(b.config.Interface)
		if err == nil {
			opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
		} else {
			b.logger.Warn("unknown mDNS interface, browsing all", "interface", b.config.Interface, "error", err)
		}
	}
	return opts
}

func toServiceEntry(entry *zeroconf.ServiceEntry) *ServiceEntry {
	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}
	return &ServiceEntry{
		Instance: entry.Instance,
		Host:     entry.HostName,
		Port:     uint16(entry.Port),
		Text:     entry.Text,
		Addrs:    addrs,
	}
}

// mergeAddresses adds new addresses to existing, avoiding duplicates.
func mergeAddresses(existing, added []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, addr := range existing {
		seen[addr] = true
	}
	for _, addr := range added {
		if !seen[addr] {
			existing = append(existing, addr)
			seen[addr] = true
		}
	}
	return existing
}

// removeAddresses drops gone from addresses.
func removeAddresses(addresses, gone []string) []string {
	drop := make(map[string]bool, len(gone))
	for _, addr := range gone {
		drop[addr] = true
	}
	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if !drop[addr] {
			result = append(result, addr)
		}
	}
	return result
}

var _ Browser = (*MDNSBrowser)(nil)
