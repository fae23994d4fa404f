package main

// adjectives and nouns feed internal/vibeid.Generator for "<adjective>-
// <noun>" session ids. The generator itself takes any word list; this is
// the daemon's own default one.
var adjectives = []string{
	"amber", "brisk", "coral", "dusty", "eager", "faint", "gentle", "hollow",
	"ivory", "jagged", "keen", "lively", "misty", "nimble", "ochre", "plain",
	"quiet", "rusty", "silent", "tidy", "umber", "vivid", "wary", "young",
	"zesty", "bold", "calm", "dry", "fuzzy", "grim",
}

var nouns = []string{
	"badger", "canyon", "delta", "ember", "falcon", "glacier", "harbor",
	"island", "juniper", "kestrel", "lagoon", "meadow", "nebula", "otter",
	"pebble", "quartz", "ridge", "summit", "thicket", "urchin", "valley",
	"willow", "xenon", "yonder", "zephyr", "boulder", "cove", "dune",
	"ferry", "grove",
}
