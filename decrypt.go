package cenc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/Eyevinn/mp4ff/mp4"
	"golang.org/x/sync/errgroup"
	. "m7s.live/cenc/pkg"
	"m7s.live/cenc/pkg/box"
	"m7s.live/cenc/pkg/crypt"
)

type Options struct {
	// FallbackSingleKey uses the only given key for every track, ignoring
	// the key-IDs signaled in the input.
	FallbackSingleKey bool
	Tracks            TrackSelector
	// AbortOnFirstTrackFailure turns any track failure into a failure of
	// the whole call. Otherwise failed tracks are omitted from the output.
	AbortOnFirstTrackFailure bool
	// Concurrency bounds the tracks decrypted at once; zero means GOMAXPROCS.
	Concurrency int
	// Verify decodes the output with an independent parser before returning it.
	Verify bool
	Logger *slog.Logger
	Stats  *Stats
}

func (o *Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o *Options) concurrency() int {
	if o.Concurrency > 0 {
		return o.Concurrency
	}
	return runtime.GOMAXPROCS(0)
}

type Result struct {
	Output     []byte
	Tracks     []TrackStatus
	Fragmented bool
	// bytes of protection signaling, auxiliary information and omitted
	// sample data left out of Output
	Removed int64
}

// Track returns the status of the given track, or nil.
func (r *Result) Track(id uint32) *TrackStatus {
	for i := range r.Tracks {
		if r.Tracks[i].TrackID == id {
			return &r.Tracks[i]
		}
	}
	return nil
}

// Failed lists the per-track errors of the run.
func (r *Result) Failed() (errs []error) {
	for _, t := range r.Tracks {
		if t.Err != nil {
			errs = append(errs, t.Err)
		}
	}
	return
}

// Decrypt removes common encryption from an ISO-BMFF file held in input.
// The input is never modified.
//
// Structural problems fail the call with ErrMalformedContainer. Per-track
// problems fail only that track unless opts.AbortOnFirstTrackFailure is
// set. When ctx ends, the tracks finished so far are kept in the returned
// Result and the unfinished ones are omitted, and ctx.Err() is returned
// alongside it.
func Decrypt(ctx context.Context, input []byte, keys []KeySpec, opts Options) (*Result, error) {
	store, err := newKeyStore(keys, opts.FallbackSingleKey)
	if err != nil {
		return nil, err
	}
	return DecryptWithStore(ctx, input, store, opts)
}

// DecryptWithStore is Decrypt with a caller owned key store, which may be
// reused across calls but must not be modified during one.
func DecryptWithStore(ctx context.Context, input []byte, store *KeyStore, opts Options) (res *Result, err error) {
	start := time.Now()
	logger := opts.logger()
	defer func() {
		if opts.Stats != nil {
			opts.Stats.observe(res, err, time.Since(start))
		}
	}()
	if err = ctx.Err(); err != nil {
		return nil, err
	}
	file, err := box.Parse(input)
	if err != nil {
		return nil, err
	}
	m, err := loadMovie(file)
	if err != nil {
		return nil, err
	}
	if err = m.plan(opts); err != nil {
		return nil, err
	}
	if opts.AbortOnFirstTrackFailure {
		for _, t := range m.tracks {
			if t.State == TrackFailed {
				return nil, t.Err
			}
		}
	}

	work := bytes.Clone(input)
	cancelErr := m.decryptTracks(ctx, work, store, opts)
	if cancelErr != nil && ctx.Err() == nil {
		return nil, cancelErr
	}

	res = &Result{Fragmented: m.fragmented}
	if res.Output, err = m.rewrite(work); err != nil {
		return nil, err
	}
	res.Removed = int64(len(input) - len(res.Output))
	for _, t := range m.tracks {
		res.Tracks = append(res.Tracks, t.TrackStatus)
		switch t.State {
		case TrackDecrypted:
			logger.Debug("track decrypted", "track", t.TrackID, "scheme", t.Scheme, "kids", t.KIDs, "samples", t.Samples)
		case TrackFailed:
			logger.Warn("track omitted", "track", t.TrackID, "scheme", t.Scheme, "err", t.Err)
		case TrackCanceled:
			logger.Warn("track canceled", "track", t.TrackID)
		}
	}
	if opts.Verify {
		if err = verify(res); err != nil {
			return nil, err
		}
	}
	logger.Info("decrypt", "tracks", len(res.Tracks), "fragmented", res.Fragmented, "in", len(input), "out", len(res.Output), "removed", res.Removed, "elapsed", time.Since(start))
	return res, cancelErr
}

// plan classifies the tracks, lays out the samples of those to decrypt and
// resolves their protection. Only malformed input is returned as an error.
func (m *movie) plan(opts Options) error {
	var todo []*track
	for _, t := range m.tracks {
		t.selected = opts.Tracks.Selected(t.TrackID)
		switch {
		case !t.protected():
			t.State = TrackClear
		case !t.selected:
			t.State = TrackSkipped
		default:
			t.layout = true
			if err := m.layoutProgressive(t); err != nil {
				return err
			}
			todo = append(todo, t)
		}
	}
	if err := m.layoutFragments(); err != nil {
		return err
	}
	if err := m.checkSamples(todo); err != nil {
		return err
	}
	for _, t := range todo {
		if err := m.prepare(t); err != nil {
			if errors.Is(err, ErrMalformedContainer) {
				return err
			}
			t.fail(-1, err)
		}
	}
	return nil
}

// decryptTracks decrypts the pending tracks from m.src into work, in
// parallel. Tracks write disjoint byte ranges of work.
func (m *movie) decryptTracks(ctx context.Context, work []byte, store *KeyStore, opts Options) error {
	var g *errgroup.Group
	gctx := ctx
	if opts.AbortOnFirstTrackFailure {
		g, gctx = errgroup.WithContext(ctx)
	} else {
		g = new(errgroup.Group)
	}
	g.SetLimit(opts.concurrency())
	for _, t := range m.tracks {
		if !t.pending() {
			continue
		}
		g.Go(func() error {
			err := t.decrypt(gctx, m.src, work, store)
			switch {
			case err == nil:
				t.State = TrackDecrypted
			case gctx.Err() != nil && errors.Is(err, gctx.Err()):
				t.State = TrackCanceled
			default:
				t.fail(-1, err)
				if opts.AbortOnFirstTrackFailure {
					return t.Err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

type keyRef struct {
	scheme crypt.Scheme
	kid    KID
}

func (t *track) decrypt(ctx context.Context, src, dst []byte, store *KeyStore) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	decrypters := make(map[keyRef]*crypt.Decrypter)
	for i := range t.samples {
		p := &t.samples[i].params
		ref := keyRef{p.scheme, p.kid}
		if _, ok := decrypters[ref]; !p.protected || ok {
			continue
		}
		key, err := store.Resolve(t.TrackID, p.kid)
		if err != nil {
			return err
		}
		if decrypters[ref], err = crypt.NewDecrypter(p.scheme, key); err != nil {
			return err
		}
	}
	for i := range t.samples {
		if err := ctx.Err(); err != nil {
			return err
		}
		s := &t.samples[i]
		if !s.params.protected {
			continue
		}
		info := crypt.SampleInfo{IV: s.params.constIV, Pattern: s.params.pattern}
		if s.aux != nil {
			if s.params.ivSize > 0 {
				info.IV = s.aux.IV
			}
			if len(s.aux.SubSamples) > 0 {
				info.Subsamples = make([]crypt.Subsample, len(s.aux.SubSamples))
				for j, sub := range s.aux.SubSamples {
					info.Subsamples[j] = crypt.Subsample{Clear: uint32(sub.BytesOfClearData), Protected: sub.BytesOfProtectedData}
				}
			}
		}
		d := decrypters[keyRef{s.params.scheme, s.params.kid}]
		if err := d.DecryptSample(dst[s.offset:s.end()], src[s.offset:s.end()], info); err != nil {
			return NewTrackError(t.TrackID, i, err)
		}
		t.Samples++
		t.Bytes += int64(s.size)
	}
	return nil
}

// verify decodes the output with mp4ff and checks that the kept tracks are
// the ones it finds.
func verify(res *Result) error {
	f, err := mp4.DecodeFile(bytes.NewReader(res.Output))
	if err != nil {
		return fmt.Errorf("verify output: %w", err)
	}
	if f.Moov == nil {
		return nil
	}
	found := make(map[uint32]bool, len(f.Moov.Traks))
	for _, trak := range f.Moov.Traks {
		found[trak.Tkhd.TrackID] = true
	}
	for _, t := range res.Tracks {
		kept := t.State != TrackFailed && t.State != TrackCanceled
		if found[t.TrackID] != kept {
			return fmt.Errorf("verify output: track %d present=%v, state %s", t.TrackID, found[t.TrackID], t.State)
		}
	}
	return nil
}
