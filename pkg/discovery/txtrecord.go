package discovery

import (
	"fmt"
	"strings"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// DecodeNodeTXT parses a node's TXT record.
func DecodeNodeTXT(txt TXTRecordMap) (*NodeInfo, error) {
	info := &NodeInfo{}

	var ok bool
	if info.Service, ok = txt[TXTKeyService]; !ok || info.Service == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyService)
	}
	if info.Network, ok = txt[TXTKeyNetwork]; !ok || info.Network == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyNetwork)
	}

	switch proto := strings.ToLower(txt[TXTKeyProto]); proto {
	case "", "https", "http":
		info.Proto = proto
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidProto, proto)
	}
	info.Path = txt[TXTKeyPath]

	return info, nil
}

// StringsToTXTRecords parses "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		k, v, _ := strings.Cut(s, "=")
		if k != "" {
			txt[k] = v
		}
	}
	return txt
}
