package history

import "strings"

// PageTransition describes how a navigation occurred: a core type in the
// low byte, OR'd with qualifier bits in the high bits.
type PageTransition uint32

// Core transition types.
const (
	Link           PageTransition = 0
	Typed          PageTransition = 1
	AutoBookmark   PageTransition = 2
	AutoSubframe   PageTransition = 3
	ManualSubframe PageTransition = 4
	Generated      PageTransition = 5
	StartPage      PageTransition = 6
	FormSubmit     PageTransition = 7
	Reload         PageTransition = 8

	CoreMask PageTransition = 0xFF
)

// Qualifiers.
const (
	ChainStart     PageTransition = 0x10000000
	ChainEnd       PageTransition = 0x20000000
	ClientRedirect PageTransition = 0x40000000
	ServerRedirect PageTransition = 0x80000000

	IsRedirectMask PageTransition = ClientRedirect | ServerRedirect
	QualifierMask  PageTransition = 0xFFFFFF00
)

var coreNames = map[PageTransition]string{
	Link:           "link",
	Typed:          "typed",
	AutoBookmark:   "auto_bookmark",
	AutoSubframe:   "auto_subframe",
	ManualSubframe: "manual_subframe",
	Generated:      "generated",
	StartPage:      "start_page",
	FormSubmit:     "form_submit",
	Reload:         "reload",
}

// Core strips the qualifiers.
func (t PageTransition) Core() PageTransition { return t & CoreMask }

// IsRedirect is true for client and server redirects.
func (t PageTransition) IsRedirect() bool { return t&IsRedirectMask != 0 }

// IsMainFrame is false only for subframe navigations.
func (t PageTransition) IsMainFrame() bool {
	var c = t.Core()
	return c != AutoSubframe && c != ManualSubframe
}

// IsChainStart reports the CHAIN_START qualifier.
func (t PageTransition) IsChainStart() bool { return t&ChainStart != 0 }

// IsChainEnd reports the CHAIN_END qualifier.
func (t PageTransition) IsChainEnd() bool { return t&ChainEnd != 0 }

// CountsAsTyped matches the typed_count accounting: a TYPED visit which is
// not itself a redirect.
func (t PageTransition) CountsAsTyped() bool {
	return t.Core() == Typed && !t.IsRedirect()
}

// String renders eg "typed|chain_start|chain_end".
func (t PageTransition) String() string {
	var name, ok = coreNames[t.Core()]
	if !ok {
		name = "unknown"
	}
	var parts = []string{name}
	for _, q := range []struct {
		bit  PageTransition
		name string
	}{
		{ChainStart, "chain_start"},
		{ChainEnd, "chain_end"},
		{ClientRedirect, "client_redirect"},
		{ServerRedirect, "server_redirect"},
	} {
		if t&q.bit != 0 {
			parts = append(parts, q.name)
		}
	}
	return strings.Join(parts, "|")
}

// ParseCoreTransition maps a core type name (as produced by String) back to
// its value.
func ParseCoreTransition(s string) (PageTransition, bool) {
	for t, name := range coreNames {
		if name == strings.ToLower(s) {
			return t, true
		}
	}
	return 0, false
}
