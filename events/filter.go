package events

import (
	"fmt"
)

// Filter defines subscription filter conditions
type Filter struct {
	// Addresses matches the stake address or the claim node.
	// Empty means no filtering on addresses.
	Addresses []string

	// Chains matches the chain an event was observed on.
	// Empty means every chain.
	Chains []string
}

// Validate checks if the filter configuration is valid
func (f *Filter) Validate() error {
	for _, chain := range f.Chains {
		if chain != ChainEthereum && chain != ChainChainflip {
			return fmt.Errorf("unknown chain %q", chain)
		}
	}
	for _, address := range f.Addresses {
		if address == "" {
			return fmt.Errorf("empty address in filter")
		}
	}
	return nil
}

// Match reports whether event passes the filter
func (f *Filter) Match(event Event) bool {
	switch e := event.(type) {
	case *CheckpointEvent:
		return f.matchChain(e.Chain)
	case *StakeEvent:
		return f.matchChain(e.Chain) && f.matchAddress(e.Address)
	case *ClaimEvent:
		return f.matchChain(e.Chain) && f.matchAddress(e.Node)
	}
	return false
}

func (f *Filter) matchChain(chain string) bool {
	if len(f.Chains) == 0 {
		return true
	}
	for _, c := range f.Chains {
		if c == chain {
			return true
		}
	}
	return false
}

func (f *Filter) matchAddress(address string) bool {
	if len(f.Addresses) == 0 {
		return true
	}
	for _, a := range f.Addresses {
		if a == address {
			return true
		}
	}
	return false
}

// Clone creates a deep copy of the filter
func (f *Filter) Clone() *Filter {
	return &Filter{
		Addresses: append([]string(nil), f.Addresses...),
		Chains:    append([]string(nil), f.Chains...),
	}
}
