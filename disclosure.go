package hostchain

// Sentinel replaces the seed once the peer is assumed to know it.
const Sentinel = "[YOU HAVE TO KNOW]"

// disclosureWindow is the number of exchanges during which the seed is sent
// in clear: the first request and the reply to it.
const disclosureWindow = 2

// SeedDisclosure returns the value for the X-Time-Sent header of the next
// message to h: the literal seed while h.Counter() < 2, Sentinel afterwards.
func SeedDisclosure(h *Host) string {
	return seedDisclosure(h.seed, h.Counter())
}

func seedDisclosure(seed string, counter uint64) string {
	if counter < disclosureWindow {
		return seed
	}
	return Sentinel
}
