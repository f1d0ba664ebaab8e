// Package strategy enumerates the archival strategies a webpage can be
// dispatched to, and the per-strategy timeout applied to the bus request
// that carries it out.
package strategy

import "time"

// Strategy identifies one archival method. The integer codes match the
// closed enum used throughout the store; they are persisted, so existing
// values must never be renumbered.
type Strategy int

const (
	Title           Strategy = 1
	Favicon         Strategy = 2
	Wget            Strategy = 3
	Curl            Strategy = 4
	WARC            Strategy = 5
	PDF             Strategy = 10
	Screenshot      Strategy = 11
	DOM             Strategy = 12
	SingleFile      Strategy = 13
	Readability     Strategy = 14
	Mercury         Strategy = 15
	Git             Strategy = 20
	YTDLP           Strategy = 21
	InternetArchive Strategy = 30
)

// names backs String and Parse. It holds the same strategies as All,
// which is the list the webpage-job loop fans out to.
var names = map[Strategy]string{
	Title:           "title",
	Favicon:         "favicon",
	Wget:            "wget",
	Curl:            "curl",
	WARC:            "warc",
	PDF:             "pdf",
	Screenshot:      "screenshot",
	DOM:             "dom",
	SingleFile:      "singlefile",
	Readability:     "readability",
	Mercury:         "mercury",
	Git:             "git",
	YTDLP:           "ytdlp",
	InternetArchive: "archivedotorg",
}

func (s Strategy) String() string {
	if name, ok := names[s]; ok {
		return name
	}
	return "unknown"
}

// timeouts maps each strategy to its request timeout. Encoded as an
// explicit lookup table keyed by strategy, rather than branching on the
// numeric ranges of the underlying enum — ordinal-range branching breaks
// silently the moment a new strategy is inserted between two tiers.
var timeouts = map[Strategy]time.Duration{
	Title:           90 * time.Second,
	Favicon:         90 * time.Second,
	Wget:            90 * time.Second,
	Curl:            90 * time.Second,
	WARC:            90 * time.Second,
	PDF:             180 * time.Second,
	Screenshot:      180 * time.Second,
	DOM:             180 * time.Second,
	SingleFile:      180 * time.Second,
	Readability:     180 * time.Second,
	Mercury:         180 * time.Second,
	Git:             180 * time.Second,
	YTDLP:           3600 * time.Second,
	InternetArchive: 60 * time.Second,
}

// defaultTimeout is used for any strategy absent from the table — it
// should never trigger for a value in All, but protects callers that
// round-trip a strategy code from the store.
const defaultTimeout = 60 * time.Second

// Timeout returns the request timeout to apply when dispatching s over the
// bus.
func (s Strategy) Timeout() time.Duration {
	if d, ok := timeouts[s]; ok {
		return d
	}
	return defaultTimeout
}

// All returns every known strategy, in ascending code order. The
// webpage-job loop creates one pending snapshot per entry for each
// webpage it processes.
func All() []Strategy {
	return []Strategy{
		Title, Favicon, Wget, Curl, WARC,
		PDF, Screenshot, DOM, SingleFile, Readability, Mercury,
		Git, YTDLP, InternetArchive,
	}
}

// Parse resolves a strategy by its string name, as configured in
// ESCRIBA_SERVICES (the service name a worker registers under is the
// strategy name).
func Parse(name string) (Strategy, bool) {
	for code, n := range names {
		if n == name {
			return code, true
		}
	}
	return 0, false
}
