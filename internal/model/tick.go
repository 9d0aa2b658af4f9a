package model

import "time"

// Tick represents a single market data tick from an exchange feed.
// Prices and volumes are float64 — crypto venues quote fractional sizes
// and the computation core consumes them as floats anyway.
type Tick struct {
	Symbol   string    `json:"symbol"`
	TS       time.Time `json:"ts"`        // event time (UTC)
	Price    float64   `json:"price"`     // last traded price
	Volume   float64   `json:"volume"`    // last traded quantity (base asset)
	BidDepth float64   `json:"bid_depth"` // top-of-book bid size, 0 if unknown
	AskDepth float64   `json:"ask_depth"` // top-of-book ask size, 0 if unknown
}

// Bucket returns the tick's time bucket for the given width in seconds.
func (t *Tick) Bucket(widthSec int64) int64 {
	return BucketOf(t.TS, widthSec)
}

// BucketOf floors a timestamp to the start of its bucket (Unix seconds).
func BucketOf(ts time.Time, widthSec int64) int64 {
	s := ts.Unix()
	return s - (s % widthSec)
}
