package platforms

// Platform identifies one of the supported posting targets. The set is
// closed: dispatch tables are built over All at startup, so an unknown
// platform can only come from untrusted input and is rejected there.
type Platform string

const (
	Mastodon Platform = "mastodon"
	Twitter  Platform = "twitter"
	Threads  Platform = "threads"
	Bluesky  Platform = "bluesky"
)

// All enumerates the platforms in their fixed display order. Downstream
// auto-selection logic depends on this order being stable.
var All = []Platform{Mastodon, Twitter, Threads, Bluesky}

// charLimits holds the per-platform post length caps.
var charLimits = map[Platform]int{
	Mastodon: 500,
	Twitter:  280,
	Threads:  500,
	Bluesky:  300,
}

// imageCaps holds the per-platform maximum image attachment counts.
var imageCaps = map[Platform]int{
	Mastodon: 4,
	Twitter:  4,
	Threads:  1,
	Bluesky:  4,
}

// Parse validates a platform string coming from the wire.
func Parse(s string) (Platform, bool) {
	p := Platform(s)
	for _, known := range All {
		if p == known {
			return p, true
		}
	}
	return "", false
}

// DisplayName returns the capitalized form used in user-facing messages.
func (p Platform) DisplayName() string {
	switch p {
	case Mastodon:
		return "Mastodon"
	case Twitter:
		return "Twitter"
	case Threads:
		return "Threads"
	case Bluesky:
		return "Bluesky"
	}
	return string(p)
}

// CharLimit returns the character limit for a single platform.
func (p Platform) CharLimit() int {
	if l, ok := charLimits[p]; ok {
		return l
	}
	return 0
}

// MaxImages returns the image attachment cap for a single platform.
func (p Platform) MaxImages() int {
	if c, ok := imageCaps[p]; ok {
		return c
	}
	return 0
}

// EffectiveCharLimit computes the limit a composition targeting the given
// platforms must honor: the minimum across all of them. An empty selection
// yields the most permissive known limit so the editor is never locked at 0.
func EffectiveCharLimit(selected []Platform) int {
	limit := 0
	for _, p := range selected {
		l := p.CharLimit()
		if l == 0 {
			continue
		}
		if limit == 0 || l < limit {
			limit = l
		}
	}
	if limit == 0 {
		for _, l := range charLimits {
			if l > limit {
				limit = l
			}
		}
	}
	return limit
}

// EffectiveImageCap computes the image cap for a composition: the minimum
// across the selected platforms.
func EffectiveImageCap(selected []Platform) int {
	cap := 0
	for _, p := range selected {
		c := p.MaxImages()
		if c == 0 {
			continue
		}
		if cap == 0 || c < cap {
			cap = c
		}
	}
	return cap
}
