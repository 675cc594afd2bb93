package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Key is everything that determines a compiled query's answer, apart from
// the data itself.
type Key struct {
	TemplateKey string
	TenantID    string
	Table       string
	Bindings    map[string][]string
	Window      string
}

// Fingerprint identifies a cached answer. Tenant and table are kept in the
// clear so entries can be partitioned and invalidated by scope.
type Fingerprint struct {
	TenantID string `json:"tenant_id"`
	Table    string `json:"table"`
	Hash     string `json:"hash"`
}

func (f Fingerprint) String() string {
	return f.TenantID + ":" + f.Table + ":" + f.Hash
}

// IsZero reports an unset fingerprint.
func (f Fingerprint) IsZero() bool {
	return f.Hash == ""
}

// FingerprintOf hashes k. Binding names are sorted and values folded and
// trimmed, so equal keys hash equally however they were built.
func FingerprintOf(k Key) Fingerprint {
	h := sha256.New()
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	write(k.TemplateKey)
	write(k.TenantID)
	write(k.Table)

	names := make([]string, 0, len(k.Bindings))
	for name := range k.Bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		write(name)
		for _, v := range k.Bindings[name] {
			write(strings.ToLower(strings.Join(strings.Fields(v), " ")))
		}
		h.Write([]byte{1})
	}
	write(k.Window)

	return Fingerprint{
		TenantID: k.TenantID,
		Table:    k.Table,
		Hash:     hex.EncodeToString(h.Sum(nil)),
	}
}
