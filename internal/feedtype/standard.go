package feedtype

// Standard builds the registry of well-known LDM feedtype names used
// throughout spec.md's scenarios (§8) and in any real ldmd.conf/pqact.conf:
// a handful of primitive bits plus the conventional mask and composite
// names layered over them. There is no teacher or pack file that declares
// these — the names themselves come directly from spec.md and its
// scenarios (NMC, DDS, IDS, DDPLUS) — so this is spec-grounded rather than
// code-grounded, same as internal/ldmconf.
func Standard() *Registry {
	r := NewRegistry()

	bits := []string{
		"DDPLUS",  // domestic data plus
		"HDS",     // historical data set
		"HRS",     // hydrometeorological rivers
		"NMC2",    // raw NMC/NWS products, part 2
		"NMC3",    // raw NMC/NWS products, part 3
		"NEXRAD2", // NEXRAD level 2 radar
		"NEXRAD3", // NEXRAD level 3 radar
		"NIMAGE",  // satellite imagery
		"NPORT",   // NOAAPORT passthrough
		"NGRID",   // gridded model output
		"FSL2",    // FSL/GSD surface & upper-air
		"GPS",     // GPS meteorology
		"NLOGIN",  // login/notification channel
		"WMO",     // raw WMO bulletins
	}
	for i, name := range bits {
		if err := r.AddBit(name, i); err != nil {
			panic("feedtype: standard registry: " + name + ": " + err.Error())
		}
	}

	must := func(err error) {
		if err != nil {
			panic("feedtype: standard registry: " + err.Error())
		}
	}

	// IDS: "Internet Data Service" mask, conventionally DDPLUS|HDS in a
	// stock LDM deployment.
	must(r.AddMask("IDS", bitsOf(r, "DDPLUS", "HDS"), false))
	// NMC is the historical composite "NWS products" value feedtype: every
	// NMCn part plus NPORT passthrough, matching the scenario in spec.md §8.5
	// (a product with Feedtype: DDS matched under a DDS rule; NMC used in
	// the RECLASS scenario §8.4).
	must(r.AddValue("NMC", []string{"NMC2", "NMC3", "NPORT"}, 0, false))
	// DDS: "Distributed Data Service", the composite spec.md §8.6 matches
	// products against directly.
	must(r.AddValue("DDS", []string{"DDPLUS", "NGRID"}, 0, false))
	must(r.AddMask("NEXRAD", bitsOf(r, "NEXRAD2", "NEXRAD3"), false))
	must(r.AddMask("ANY", allBits(bits), false))

	return r
}

func bitsOf(r *Registry, names ...string) uint32 {
	var bits uint32
	for _, n := range names {
		ft, err := r.Lookup(n)
		if err != nil {
			panic("feedtype: standard registry: " + n + ": " + err.Error())
		}
		bits |= ft.Bits
	}
	return bits
}

func allBits(names []string) uint32 {
	var bits uint32
	for i := range names {
		bits |= 1 << uint(i)
	}
	return bits
}
