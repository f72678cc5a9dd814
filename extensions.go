package main

import (
	"github.com/chiobot/chio/extensions/activity"
	"github.com/chiobot/chio/extensions/nya"
	"github.com/chiobot/chio/extensions/rep"
	"github.com/chiobot/chio/extensions/shop"
	"github.com/chiobot/chio/extensions/stats"
)

// Extensions ship compiled in; the plugins document chooses which of
// these attach at startup.
func init() {
	registerFactory("activity", activity.New)
	registerFactory("nya", nya.New)
	registerFactory("rep", rep.New)
	registerFactory("shop", shop.New)
	registerFactory("stats", stats.New)
}
