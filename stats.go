package cenc

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	. "m7s.live/cenc/pkg"
)

type statsDesc struct {
	Runs, Tracks, Samples, Bytes, Removed, Seconds *prometheus.Desc
}

func (d *statsDesc) init() {
	d.Runs = prometheus.NewDesc("cenc_runs_total", "Decrypt calls by outcome", []string{"outcome"}, nil)
	d.Tracks = prometheus.NewDesc("cenc_tracks_total", "Tracks seen by final state", []string{"state"}, nil)
	d.Samples = prometheus.NewDesc("cenc_samples_decrypted_total", "Protected samples decrypted", nil, nil)
	d.Bytes = prometheus.NewDesc("cenc_sample_bytes_decrypted_total", "Bytes of protected samples decrypted", nil, nil)
	d.Removed = prometheus.NewDesc("cenc_bytes_removed_total", "Bytes left out of outputs", nil, nil)
	d.Seconds = prometheus.NewDesc("cenc_seconds_total", "Time spent in decrypt calls", nil, nil)
}

// Stats is a prometheus.Collector over decrypt calls. Pass it in Options
// and register it wherever metrics are gathered.
type Stats struct {
	sync.Mutex
	desc                    statsDesc
	runs                    map[string]float64
	tracks                  map[TrackState]float64
	samples, bytes, removed float64
	seconds                 float64
}

func NewStats() *Stats {
	s := &Stats{runs: make(map[string]float64), tracks: make(map[TrackState]float64)}
	s.desc.init()
	return s
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, ErrMalformedContainer):
		return "malformed"
	}
	return "failed"
}

func (s *Stats) observe(res *Result, err error, elapsed time.Duration) {
	s.Lock()
	defer s.Unlock()
	s.runs[outcome(err)]++
	s.seconds += elapsed.Seconds()
	if res == nil {
		return
	}
	s.removed += float64(res.Removed)
	for _, t := range res.Tracks {
		s.tracks[t.State]++
		s.samples += float64(t.Samples)
		s.bytes += float64(t.Bytes)
	}
}

func (s *Stats) Describe(ch chan<- *prometheus.Desc) {
	ch <- s.desc.Runs
	ch <- s.desc.Tracks
	ch <- s.desc.Samples
	ch <- s.desc.Bytes
	ch <- s.desc.Removed
	ch <- s.desc.Seconds
}

func (s *Stats) Collect(ch chan<- prometheus.Metric) {
	s.Lock()
	defer s.Unlock()
	for outcome, v := range s.runs {
		ch <- prometheus.MustNewConstMetric(s.desc.Runs, prometheus.CounterValue, v, outcome)
	}
	for state, v := range s.tracks {
		ch <- prometheus.MustNewConstMetric(s.desc.Tracks, prometheus.CounterValue, v, state.String())
	}
	ch <- prometheus.MustNewConstMetric(s.desc.Samples, prometheus.CounterValue, s.samples)
	ch <- prometheus.MustNewConstMetric(s.desc.Bytes, prometheus.CounterValue, s.bytes)
	ch <- prometheus.MustNewConstMetric(s.desc.Removed, prometheus.CounterValue, s.removed)
	ch <- prometheus.MustNewConstMetric(s.desc.Seconds, prometheus.CounterValue, s.seconds)
}
