package access

// Capability names one operation class a rule can grant or deny.
type Capability uint8

const (
	Read Capability = iota
	Write
	WriteContents
	Copy
	Download
	Upload
)

var capabilityNames = [...]string{
	Read:          "read",
	Write:         "write",
	WriteContents: "writeContents",
	Copy:          "copy",
	Download:      "download",
	Upload:        "upload",
}

func (c Capability) String() string {
	if int(c) < len(capabilityNames) {
		return capabilityNames[c]
	}
	return "unknown"
}

// Capabilities lists every capability in declaration order.
func Capabilities() []Capability {
	return []Capability{Read, Write, WriteContents, Copy, Download, Upload}
}

// Permission is the capability set resolved for one path. A nil
// *Permission means no rule list is configured and nothing is restricted.
type Permission struct {
	Read          bool   `json:"read"`
	Write         bool   `json:"write"`
	WriteContents bool   `json:"writeContents"`
	Copy          bool   `json:"copy"`
	Download      bool   `json:"download"`
	Upload        bool   `json:"upload"`
	Message       string `json:"message"`
}

// Has reports whether a single capability is granted.
func (p *Permission) Has(c Capability) bool {
	if p == nil {
		return true
	}
	switch c {
	case Read:
		return p.Read
	case Write:
		return p.Write
	case WriteContents:
		return p.WriteContents
	case Copy:
		return p.Copy
	case Download:
		return p.Download
	case Upload:
		return p.Upload
	}
	return false
}

// Allows reports whether every listed capability is granted.
func (p *Permission) Allows(caps ...Capability) bool {
	for _, c := range caps {
		if !p.Has(c) {
			return false
		}
	}
	return true
}

// Missing returns the first capability not granted, in argument order.
func (p *Permission) Missing(caps ...Capability) (Capability, bool) {
	for _, c := range caps {
		if !p.Has(c) {
			return c, true
		}
	}
	return 0, false
}

func (p *Permission) set(c Capability, v bool) {
	switch c {
	case Read:
		p.Read = v
	case Write:
		p.Write = v
	case WriteContents:
		p.WriteContents = v
	case Copy:
		p.Copy = v
	case Download:
		p.Download = v
	case Upload:
		p.Upload = v
	}
}
